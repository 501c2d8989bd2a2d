// Package scheduler triggers pipeline runs on a cron schedule and hands
// the resulting notification jobs to the bus.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// Runner executes one full pipeline run.
type Runner interface {
	Run(ctx context.Context) (domain.RunReport, []domain.NotificationJob, error)
}

// Store persists run reports.
type Store interface {
	InsertRun(ctx context.Context, report domain.RunReport) error
}

// JobEmitter hands built jobs to the delivery side.
type JobEmitter interface {
	Emit(ctx context.Context, job domain.NotificationJob) error
}

// Schedule yields the next fire time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunStarted()
	RunCompleted(duration time.Duration, jobsBuilt int, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config   Config
	schedule Schedule
	runner   Runner
	store    Store
	emitter  JobEmitter
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	// runMu serializes runs: the ticker and a manual trigger must not
	// execute the pipeline concurrently.
	runMu sync.Mutex
	next  time.Time
}

func New(config Config, schedule Schedule, runner Runner, store Store, emitter JobEmitter) *Scheduler {
	return &Scheduler{
		config:   config,
		schedule: schedule,
		runner:   runner,
		store:    store,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock overrides the time source. For tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is cancelled. Missed fire times collapse into a
// single run: every run polls the current source state, so replaying
// each missed slot would only produce duplicate work.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	now := s.clock()
	s.next = s.schedule.Next(now)
	log.Printf("scheduler: started, tick=%s next_run=%s",
		s.config.TickInterval, s.next.Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.processTick(ctx)
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) {
	now := s.clock()
	if s.next.After(now) {
		return
	}

	if _, err := s.TriggerRun(ctx); err != nil {
		log.Printf("scheduler: run error: %v", err)
	}

	s.next = s.schedule.Next(now)
	log.Printf("scheduler: next run at %s", s.next.Format(time.RFC3339))
}

// TriggerRun executes one pipeline run, records its report, and emits
// the built jobs. Safe to call concurrently with the ticker; runs are
// serialized.
func (s *Scheduler) TriggerRun(ctx context.Context) (domain.RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.metrics != nil {
		s.metrics.RunStarted()
	}
	start := s.clock()

	report, jobs, runErr := s.runner.Run(ctx)

	if err := s.store.InsertRun(ctx, report); err != nil {
		log.Printf("scheduler: failed to record run %s: %v", report.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RunCompleted(s.clock().Sub(start), report.JobsBuilt, runErr)
	}

	if runErr != nil {
		return report, fmt.Errorf("pipeline run: %w", runErr)
	}

	for _, job := range jobs {
		if err := s.emitter.Emit(ctx, job); err != nil {
			// Unemitted jobs leave their tracking keys unrecorded, so
			// the next run rebuilds them.
			log.Printf("scheduler: failed to emit job=%s vessel=%q: %v",
				job.ID, job.Metadata.VesselName, err)
		}
	}

	return report, nil
}
