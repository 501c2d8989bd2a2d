// Package postgres implements the persistence layer on PostgreSQL: the
// event feed, the notified-key tracking store, and the run, delivery
// attempt and notification logs.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/prominencemaritime/flag-dispensations/internal/api"
	"github.com/prominencemaritime/flag-dispensations/internal/dispatcher"
	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/pipeline"
	"github.com/prominencemaritime/flag-dispensations/internal/scheduler"
	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
)

// Store implements pipeline.Source, tracking.Store, scheduler.Store,
// dispatcher.Store and api.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration

	// requiredColumns is the column contract the event feed query must
	// satisfy, usually alert.RequiredColumns().
	requiredColumns []string

	clock func() time.Time
}

// New creates a PostgreSQL store. opTimeout bounds each database
// operation; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration, requiredColumns []string) *Store {
	return &Store{
		db:              db,
		opTimeout:       opTimeout,
		requiredColumns: requiredColumns,
		clock:           time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// PingContext reports database reachability, for health checks.
func (s *Store) PingContext(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Fetch returns flag dispensation events created within the lookback
// window with the given status. Returns *pipeline.DataContractError if
// the feed query stops returning a required column.
func (s *Store) Fetch(ctx context.Context, lookbackDays int, jobStatus string) ([]domain.EventRow, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryFetchEvents, lookbackDays, jobStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(s.requiredColumns, columns); len(missing) > 0 {
		return nil, &pipeline.DataContractError{Missing: missing}
	}

	var result []domain.EventRow
	for rows.Next() {
		var (
			row         domain.EventRow
			vesselEmail sql.NullString
			vesselID    sql.NullString
			vesselName  sql.NullString
			eventID     sql.NullString
			importance  sql.NullString
			title       sql.NullString
			category    sql.NullString
			department  sql.NullString
			dueDate     sql.NullTime
			requestedOn sql.NullTime
			status      sql.NullString
		)

		err := rows.Scan(
			&vesselEmail,
			&vesselID,
			&vesselName,
			&eventID,
			&importance,
			&title,
			&category,
			&department,
			&dueDate,
			&requestedOn,
			&row.CreatedAt,
			&status,
		)
		if err != nil {
			return nil, err
		}

		// NULL categoricals normalize to "" here so downstream code
		// never sees database null markers.
		row.VesselEmail = vesselEmail.String
		row.VesselID = vesselID.String
		row.VesselName = vesselName.String
		row.EventID = eventID.String
		row.Importance = importance.String
		row.Title = title.String
		row.Category = category.String
		row.Department = department.String
		row.Status = status.String
		if dueDate.Valid {
			row.DueDate = dueDate.Time.Format(time.RFC3339)
		}
		if requestedOn.Valid {
			row.RequestedOn = requestedOn.Time.Format(time.RFC3339)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func missingColumns(required, got []string) []string {
	present := make(map[string]bool, len(got))
	for _, c := range got {
		present[c] = true
	}
	var missing []string
	for _, c := range required {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// Seen reports which of the given keys already exist in notified_keys.
func (s *Store) Seen(ctx context.Context, keys []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return seen, nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, querySeenKeys, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		seen[key] = true
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return seen, nil
}

// Record marks keys as notified. Already recorded keys are left
// untouched, keeping their original recorded_at.
func (s *Store) Record(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryRecordKeys, pq.Array(keys), s.clock().UTC())
	return err
}

// Prune deletes up to limit keys recorded before olderThan and returns
// how many were deleted.
func (s *Store) Prune(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryPruneKeys, olderThan, limit)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// InsertRun inserts a pipeline run report.
func (s *Store) InsertRun(ctx context.Context, report domain.RunReport) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		report.ID,
		report.Alert,
		report.StartedAt,
		report.FinishedAt,
		string(report.Status),
		report.RowsFetched,
		report.RowsFiltered,
		report.RowsDeduped,
		report.JobsBuilt,
		report.Error,
	)
	return err
}

// ListRuns returns run reports, newest first, paginated by limit and offset.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.RunReport, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RunReport
	for rows.Next() {
		var report domain.RunReport
		var status string

		err := rows.Scan(
			&report.ID,
			&report.Alert,
			&report.StartedAt,
			&report.FinishedAt,
			&status,
			&report.RowsFetched,
			&report.RowsFiltered,
			&report.RowsDeduped,
			&report.JobsBuilt,
			&report.Error,
		)
		if err != nil {
			return nil, err
		}
		report.Status = domain.RunStatus(status)
		result = append(result, report)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertDeliveryAttempt inserts one delivery attempt record.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertDeliveryAttempt,
		attempt.ID,
		attempt.JobID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// InsertNotification inserts a sent-notification log entry.
func (s *Store) InsertNotification(ctx context.Context, record domain.NotificationRecord) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		record.ID,
		record.JobID,
		record.Alert,
		record.VesselID,
		record.VesselName,
		pq.Array(record.Recipients),
		pq.Array(record.CCRecipients),
		record.RowCount,
		record.Subject,
		record.SentAt,
	)
	return err
}

// ListNotifications returns sent notifications, newest first, paginated
// by limit and offset.
func (s *Store) ListNotifications(ctx context.Context, limit, offset int) ([]domain.NotificationRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListNotifications, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.NotificationRecord
	for rows.Next() {
		var record domain.NotificationRecord

		err := rows.Scan(
			&record.ID,
			&record.JobID,
			&record.Alert,
			&record.VesselID,
			&record.VesselName,
			pq.Array(&record.Recipients),
			pq.Array(&record.CCRecipients),
			&record.RowCount,
			&record.Subject,
			&record.SentAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Compile-time interface assertions
var (
	_ pipeline.Source   = (*Store)(nil)
	_ tracking.Store    = (*Store)(nil)
	_ scheduler.Store   = (*Store)(nil)
	_ dispatcher.Store  = (*Store)(nil)
	_ api.Store         = (*Store)(nil)
	_ api.HealthChecker = (*Store)(nil)
)
