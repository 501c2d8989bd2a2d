package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/filter"
	"github.com/prominencemaritime/flag-dispensations/internal/router"
	"github.com/prominencemaritime/flag-dispensations/internal/routing"
)

type stubAlert struct{}

func (stubAlert) Name() string  { return "test_alert" }
func (stubAlert) Title() string { return "Test Alert" }
func (stubAlert) RequiredColumns() []string {
	return []string{"vsl_email", "vessel_id", "vessel", "job_id", "created_at"}
}
func (stubAlert) DisplayColumns() []string { return []string{"title", "created_at"} }
func (stubAlert) Subject(meta domain.JobMetadata) string {
	return "Test | " + strings.ToUpper(meta.VesselName)
}

type mockSource struct {
	rows []domain.EventRow
	err  error

	mu    sync.Mutex
	calls int
}

func (s *mockSource) Fetch(ctx context.Context, lookbackDays int, jobStatus string) ([]domain.EventRow, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type mockTracker struct {
	mu       sync.Mutex
	seen     map[string]bool
	seenErr  error
	recorded []string
}

func newMockTracker() *mockTracker {
	return &mockTracker{seen: make(map[string]bool)}
}

func (t *mockTracker) Seen(ctx context.Context, keys []string) (map[string]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seenErr != nil {
		return nil, t.seenErr
	}
	result := make(map[string]bool, len(keys))
	for _, key := range keys {
		result[key] = t.seen[key]
	}
	return result, nil
}

func (t *mockTracker) Record(ctx context.Context, keys []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		t.seen[key] = true
		t.recorded = append(t.recorded, key)
	}
	return nil
}

func (t *mockTracker) Prune(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	return 0, nil
}

func (t *mockTracker) markSeen(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		t.seen[key] = true
	}
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testRecency(t *testing.T) *filter.Recency {
	t.Helper()
	r, err := filter.New(3, "UTC")
	if err != nil {
		t.Fatalf("filter.New failed: %v", err)
	}
	return r.WithClock(func() time.Time { return testNow })
}

func testRouter() *router.Router {
	table := routing.Table{
		Rules: []routing.Rule{
			{Domain: "seatraders.com", CC: []string{"ops@seatraders.com"}},
		},
		InternalRecipients: []string{"alerts@prominencemaritime.com"},
		DefaultCompany:     "Prominence Maritime",
	}
	return router.New(table, router.LinkConfig{})
}

func testRow(vesselID, eventID string) domain.EventRow {
	return domain.EventRow{
		VesselEmail: fmt.Sprintf("vessel%s@seatraders.com", vesselID),
		VesselID:    vesselID,
		VesselName:  "VESSEL " + vesselID,
		EventID:     eventID,
		Title:       "Dispensation request",
		CreatedAt:   testNow.Add(-2 * time.Hour),
	}
}

func TestRunBuildsJobs(t *testing.T) {
	source := &mockSource{rows: []domain.EventRow{
		testRow("1", "10"),
		testRow("1", "11"),
		testRow("2", "20"),
	}}

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter())

	report, jobs, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != domain.RunStatusSucceeded {
		t.Errorf("status = %q", report.Status)
	}
	if report.RowsFetched != 3 || report.RowsFiltered != 3 || report.JobsBuilt != 2 {
		t.Errorf("report counts: fetched=%d filtered=%d jobs=%d",
			report.RowsFetched, report.RowsFiltered, report.JobsBuilt)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	job := jobs[0]
	if len(job.Recipients) != 1 || job.Recipients[0] != "vessel1@seatraders.com" {
		t.Errorf("recipients = %v", job.Recipients)
	}
	if job.Metadata.Subject != "Test | VESSEL 1" {
		t.Errorf("subject = %q", job.Metadata.Subject)
	}
	if len(job.TrackingKeys) != 2 {
		t.Errorf("tracking keys = %v", job.TrackingKeys)
	}
	if job.TrackingKeys[0] != "vessel_id_1__job_id_10" {
		t.Errorf("tracking keys = %v", job.TrackingKeys)
	}
}

func TestRunDedupSuppressesSeenRows(t *testing.T) {
	source := &mockSource{rows: []domain.EventRow{
		testRow("1", "10"),
		testRow("1", "11"),
	}}
	tracker := newMockTracker()
	tracker.markSeen("vessel_id_1__job_id_10")

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter()).
		WithTracking(tracker)

	report, jobs, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.RowsDeduped != 1 {
		t.Errorf("RowsDeduped = %d", report.RowsDeduped)
	}
	if len(jobs) != 1 || len(jobs[0].Rows) != 1 {
		t.Fatalf("expected 1 job with 1 row, got %+v", jobs)
	}
	if jobs[0].Rows[0].EventID != "11" {
		t.Errorf("wrong row survived dedup: %+v", jobs[0].Rows[0])
	}
}

func TestRunAllRowsSeenProducesNoJobs(t *testing.T) {
	source := &mockSource{rows: []domain.EventRow{testRow("1", "10")}}
	tracker := newMockTracker()
	tracker.markSeen("vessel_id_1__job_id_10")

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter()).
		WithTracking(tracker)

	report, jobs, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
	if report.Status != domain.RunStatusSucceeded {
		t.Errorf("an empty run is still a success, got %q", report.Status)
	}
}

func TestRunIdempotentAfterRecord(t *testing.T) {
	source := &mockSource{rows: []domain.EventRow{testRow("1", "10")}}
	tracker := newMockTracker()

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter()).
		WithTracking(tracker)

	_, jobs, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job on first run, got %d", len(jobs))
	}

	// Simulate successful hand-off, then run again over the same data.
	if err := tracker.Record(context.Background(), jobs[0].TrackingKeys); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	_, jobs, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("second run rebuilt %d job(s) for already-notified rows", len(jobs))
	}
}

func TestRunEmptyFetch(t *testing.T) {
	source := &mockSource{}

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter())

	report, jobs, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(jobs) != 0 || report.JobsBuilt != 0 {
		t.Errorf("expected zero jobs, got %d", len(jobs))
	}
	if report.Status != domain.RunStatusSucceeded {
		t.Errorf("status = %q", report.Status)
	}
}

func TestRunFetchErrorFailsRun(t *testing.T) {
	contractErr := &DataContractError{Missing: []string{"vsl_email", "due_date"}}
	source := &mockSource{err: contractErr}

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter())

	report, jobs, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var dce *DataContractError
	if !errors.As(err, &dce) {
		t.Fatalf("expected DataContractError, got %v", err)
	}
	if report.Status != domain.RunStatusFailed {
		t.Errorf("status = %q", report.Status)
	}
	if report.Error == "" {
		t.Error("report.Error not set")
	}
	if jobs != nil {
		t.Errorf("expected no jobs on failed run, got %v", jobs)
	}
}

func TestRunSeenErrorFailsRun(t *testing.T) {
	source := &mockSource{rows: []domain.EventRow{testRow("1", "10")}}
	tracker := newMockTracker()
	tracker.seenErr = errors.New("redis: connection refused")

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter()).
		WithTracking(tracker)

	report, _, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when the tracking store is unreachable")
	}
	if report.Status != domain.RunStatusFailed {
		t.Errorf("status = %q", report.Status)
	}
}

func TestRunUnkeyableRowFailsRun(t *testing.T) {
	row := testRow("1", "10")
	row.VesselID = ""
	source := &mockSource{rows: []domain.EventRow{row}}

	// No tracker: key derivation must still be enforced.
	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter())

	report, _, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for unkeyable row")
	}
	if report.Status != domain.RunStatusFailed {
		t.Errorf("status = %q", report.Status)
	}
}

func TestRunInconsistentGroupFailsRun(t *testing.T) {
	rowA := testRow("1", "10")
	rowB := testRow("7", "11")
	// Same destination, conflicting vessel ids.
	rowB.VesselEmail = rowA.VesselEmail
	rowB.VesselName = rowA.VesselName
	source := &mockSource{rows: []domain.EventRow{rowA, rowB}}

	p := New(Config{LookbackDays: 3, JobStatus: "pending"},
		stubAlert{}, source, testRecency(t), testRouter())

	report, _, err := p.Run(context.Background())
	if !errors.Is(err, router.ErrInconsistentGroup) {
		t.Fatalf("expected ErrInconsistentGroup, got %v", err)
	}
	if report.Status != domain.RunStatusFailed {
		t.Errorf("status = %q", report.Status)
	}
}

func TestDataContractErrorMessage(t *testing.T) {
	err := &DataContractError{Missing: []string{"vsl_email", "due_date"}}
	msg := err.Error()
	if !strings.Contains(msg, "vsl_email") || !strings.Contains(msg, "due_date") {
		t.Errorf("error message missing column names: %q", msg)
	}
}
