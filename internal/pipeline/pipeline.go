// Package pipeline owns the fetch -> filter -> dedup -> route -> build
// sequence shared by every alert of this shape. A concrete alert plugs
// in by supplying its query identity, required columns, and display
// rules (see Alert).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/filter"
	"github.com/prominencemaritime/flag-dispensations/internal/router"
	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
)

// Source returns event rows for a lookback window and status filter.
// The returned set may be empty but must contain every required column;
// implementations return a *DataContractError otherwise.
type Source interface {
	Fetch(ctx context.Context, lookbackDays int, jobStatus string) ([]domain.EventRow, error)
}

// Alert is the extension surface a concrete alert implements.
type Alert interface {
	// Name identifies the alert in logs and run reports.
	Name() string

	// Title is the fixed alert title attached to job metadata.
	Title() string

	// RequiredColumns lists the columns the fetched table must contain.
	// Absence of one is a data-contract error, not a per-row failure.
	RequiredColumns() []string

	// DisplayColumns determines render order in the outbound message.
	DisplayColumns() []string

	// Subject builds the message subject from metadata alone, so it is
	// computable even for an empty job.
	Subject(meta domain.JobMetadata) string
}

// DataContractError reports required columns missing from a fetched
// table. It is fatal for the run and never retried within it.
type DataContractError struct {
	Missing []string
}

func (e *DataContractError) Error() string {
	return fmt.Sprintf("data contract: fetched table missing required columns: %s",
		strings.Join(e.Missing, ", "))
}

// Config holds per-run pipeline parameters.
type Config struct {
	LookbackDays int
	JobStatus    string
}

// Pipeline runs one alert end to end. It holds no cross-run state; the
// tracking store is externally owned.
type Pipeline struct {
	config  Config
	alert   Alert
	source  Source
	recency *filter.Recency
	router  *router.Router
	tracker tracking.Store // optional, nil = dedup disabled
	clock   func() time.Time
}

func New(config Config, alert Alert, source Source, recency *filter.Recency, rt *router.Router) *Pipeline {
	return &Pipeline{
		config:  config,
		alert:   alert,
		source:  source,
		recency: recency,
		router:  rt,
		clock:   time.Now,
	}
}

// WithTracking enables deduplication against a tracking store.
func (p *Pipeline) WithTracking(store tracking.Store) *Pipeline {
	p.tracker = store
	return p
}

// WithClock overrides the time source. For tests.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Run executes one pipeline run. Either the full job set is produced or
// the run fails before any job is emitted; there is no partial success.
// Retrying a failed run is the caller's responsibility.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, []domain.NotificationJob, error) {
	report := domain.RunReport{
		ID:        uuid.New(),
		Alert:     p.alert.Name(),
		StartedAt: p.clock().UTC(),
	}

	fail := func(err error) (domain.RunReport, []domain.NotificationJob, error) {
		report.FinishedAt = p.clock().UTC()
		report.Status = domain.RunStatusFailed
		report.Error = err.Error()
		return report, nil, err
	}

	rows, err := p.source.Fetch(ctx, p.config.LookbackDays, p.config.JobStatus)
	if err != nil {
		return fail(fmt.Errorf("fetch: %w", err))
	}
	report.RowsFetched = len(rows)

	fresh := p.recency.Apply(rows)
	report.RowsFiltered = len(fresh)

	// Tracking keys must be computable for every row that reaches the
	// router, whether or not dedup is enabled for this run.
	keys, err := tracking.Keys(fresh)
	if err != nil {
		return fail(fmt.Errorf("tracking key: %w", err))
	}

	kept := fresh
	if p.tracker != nil && len(fresh) > 0 {
		seen, err := p.tracker.Seen(ctx, keys)
		if err != nil {
			return fail(fmt.Errorf("dedup check: %w", err))
		}
		kept = kept[:0:0]
		for i, row := range fresh {
			if seen[keys[i]] {
				report.RowsDeduped++
				continue
			}
			kept = append(kept, row)
		}
		if report.RowsDeduped > 0 {
			log.Printf("pipeline: %s suppressed %d already-notified row(s)",
				p.alert.Name(), report.RowsDeduped)
		}
	}

	groups, err := p.router.Route(kept)
	if err != nil {
		return fail(fmt.Errorf("route: %w", err))
	}

	jobs, err := buildJobs(p.alert, groups)
	if err != nil {
		return fail(fmt.Errorf("build jobs: %w", err))
	}
	report.JobsBuilt = len(jobs)

	report.FinishedAt = p.clock().UTC()
	report.Status = domain.RunStatusSucceeded

	log.Printf("pipeline: %s run complete (fetched=%d filtered=%d deduped=%d jobs=%d)",
		p.alert.Name(), report.RowsFetched, report.RowsFiltered, report.RowsDeduped, report.JobsBuilt)

	return report, jobs, nil
}
