// Package dispatcher hands built notification jobs to the delivery
// transport, with retries, per-destination circuit breaking, and
// at-most-once bookkeeping via the tracking store.
package dispatcher

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// Store records delivery attempts and sent notifications.
type Store interface {
	InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	InsertNotification(ctx context.Context, record domain.NotificationRecord) error
}

// Sender performs one delivery attempt for a job.
type Sender interface {
	Send(ctx context.Context, req Request) Result
	// Destination identifies where a job is delivered, for circuit
	// breaker keying: the gateway URL in webhook mode, the primary
	// recipient in SMTP mode.
	Destination(job domain.NotificationJob) string
}

// Breaker guards failing destinations. Satisfied by
// circuitbreaker.CircuitBreaker.
type Breaker interface {
	Allow(destination string) error
	RecordSuccess(destination string)
	RecordFailure(destination string)
}

type AnalyticsSink interface {
	Record(ctx context.Context, job domain.NotificationJob)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

type Request struct {
	Job       domain.NotificationJob
	Timeout   time.Duration
	AttemptID string
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type Dispatcher struct {
	store        Store
	sender       Sender
	tracker      tracking.Store
	alertName    string
	timeout      time.Duration
	breaker      Breaker       // optional, nil = disabled
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
	clock        func() time.Time
}

func New(store Store, sender Sender, tracker tracking.Store, alertName string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:        store,
		sender:       sender,
		tracker:      tracker,
		alertName:    alertName,
		timeout:      timeout,
		backoff:      defaultBackoff,
		drainTimeout: DrainTimeout,
		clock:        time.Now,
	}
}

// WithBreaker attaches a circuit breaker to the dispatcher.
func (d *Dispatcher) WithBreaker(breaker Breaker) *Dispatcher {
	d.breaker = breaker
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	d.drainTimeout = timeout
	return d
}

// Run processes jobs from the channel until context is cancelled.
// After cancellation, it drains remaining buffered jobs with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.NotificationJob) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case job := <-ch:
			if err := d.Dispatch(ctx, job); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// DrainTimeout is the maximum time to wait for buffered jobs during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes remaining jobs in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.NotificationJob) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d jobs", count)
			}
			return
		case job, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d jobs", count)
				return
			}
			if err := d.Dispatch(drainCtx, job); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			// No more buffered jobs
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d jobs", count)
			}
			return
		}
	}
}

// Dispatch delivers one job. Tracking keys are recorded only after the
// job has been successfully handed to the transport; on failure they
// stay unrecorded so the next run re-notifies.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.NotificationJob) error {
	if d.metrics != nil {
		d.metrics.JobsInFlightIncr()
		defer d.metrics.JobsInFlightDecr()
	}

	destination := d.sender.Destination(job)

	if d.breaker != nil {
		if err := d.breaker.Allow(destination); err != nil {
			log.Printf("dispatcher: job=%s destination=%s circuit open, abandoning", job.ID, destination)
			if d.metrics != nil {
				d.metrics.DeliveryOutcome(OutcomeAbandoned)
			}
			return err
		}
	}

	req := Request{
		Job:     job,
		Timeout: d.timeout,
	}

	var lastResult Result

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(d.backoff) {
				idx = len(d.backoff) - 1
			}
			backoff := d.backoff[idx]

			log.Printf("dispatcher: job=%s attempt=%d backoff=%s", job.ID, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := d.clock().UTC()
		result := d.sender.Send(ctx, req)
		finishedAt := d.clock().UTC()
		lastResult = result

		if d.metrics != nil {
			statusClass := ClassifyStatus(result.StatusCode, result.Error)
			d.metrics.DeliveryAttemptCompleted(attempt, statusClass, result.Duration)
		}

		attemptRecord := domain.DeliveryAttempt{
			ID:         attemptID,
			JobID:      job.ID,
			Attempt:    attempt,
			StatusCode: result.StatusCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if result.Error != nil {
			attemptRecord.Error = result.Error.Error()
		}

		if err := d.store.InsertDeliveryAttempt(ctx, attemptRecord); err != nil {
			log.Printf("dispatcher: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			log.Printf("dispatcher: job=%s vessel=%q delivered attempt=%d",
				job.ID, job.Metadata.VesselName, attempt)
			if d.breaker != nil {
				d.breaker.RecordSuccess(destination)
			}
			if d.metrics != nil {
				d.metrics.DeliveryOutcome(OutcomeSuccess)
			}
			d.recordHandOff(ctx, job)
			return nil
		}

		if d.breaker != nil {
			d.breaker.RecordFailure(destination)
		}

		if !result.IsRetryable() {
			log.Printf("dispatcher: job=%s non-retryable status=%d", job.ID, result.StatusCode)
			break
		}

		log.Printf("dispatcher: job=%s attempt=%d failed status=%d err=%v",
			job.ID, attempt, result.StatusCode, result.Error)
	}

	// Tracking keys deliberately stay unrecorded: the next run will
	// rebuild and re-deliver this notification.
	log.Printf("dispatcher: job=%s failed status=%d err=%v", job.ID, lastResult.StatusCode, lastResult.Error)
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(OutcomeFailed)
	}
	return nil
}

// recordHandOff persists everything that follows a successful hand-off:
// the tracking keys that suppress duplicates, the notification log
// entry, and best-effort analytics.
func (d *Dispatcher) recordHandOff(ctx context.Context, job domain.NotificationJob) {
	if d.tracker != nil {
		if err := d.tracker.Record(ctx, job.TrackingKeys); err != nil {
			// Keys unrecorded means the next run re-notifies; loud log,
			// never a failure of the delivered job.
			log.Printf("dispatcher: job=%s failed to record %d tracking key(s): %v",
				job.ID, len(job.TrackingKeys), err)
		}
	}

	record := domain.NotificationRecord{
		ID:           uuid.New(),
		JobID:        job.ID,
		Alert:        d.alertName,
		VesselID:     job.Metadata.VesselID,
		VesselName:   job.Metadata.VesselName,
		Recipients:   job.Recipients,
		CCRecipients: job.CCRecipients,
		RowCount:     len(job.Rows),
		Subject:      job.Metadata.Subject,
		SentAt:       d.clock().UTC(),
	}
	if err := d.store.InsertNotification(ctx, record); err != nil {
		log.Printf("dispatcher: job=%s failed to record notification: %v", job.ID, err)
	}

	if d.analytics != nil {
		d.analytics.Record(ctx, job)
	}
}
