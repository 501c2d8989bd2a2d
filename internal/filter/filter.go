// Package filter retains recently synced event rows and normalizes
// their display fields.
package filter

import (
	"fmt"
	"log"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

const (
	displayDateTime = "2006-01-02 15:04:05"
	displayDate     = "2006-01-02"
)

// Recency keeps rows whose created_at, normalized to the target zone,
// is within the lookback window. It is a pure transform: input rows are
// never mutated.
type Recency struct {
	lookbackDays int
	loc          *time.Location
	clock        func() time.Time
}

// New creates a Recency filter for the given lookback window and IANA zone.
func New(lookbackDays int, timezone string) (*Recency, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load tz %s: %w", timezone, err)
	}
	return &Recency{
		lookbackDays: lookbackDays,
		loc:          loc,
		clock:        time.Now,
	}, nil
}

// WithClock overrides the time source. For tests.
func (r *Recency) WithClock(clock func() time.Time) *Recency {
	r.clock = clock
	return r
}

// Apply returns the rows newer than or equal to the cutoff, with dates
// formatted for display. Categorical fields arrive already normalized
// to "" by the source scan, so downstream grouping never sees a null
// marker.
func (r *Recency) Apply(rows []domain.EventRow) []domain.EventRow {
	if len(rows) == 0 {
		return nil
	}

	cutoff := r.clock().In(r.loc).AddDate(0, 0, -r.lookbackDays)

	kept := make([]domain.EventRow, 0, len(rows))
	for _, row := range rows {
		createdAt := normalize(row.CreatedAt, r.loc)
		if createdAt.Before(cutoff) {
			continue
		}

		out := row
		out.CreatedAt = createdAt
		out.CreatedAtDisplay = createdAt.Format(displayDateTime)
		out.DueDate = formatDate(row.DueDate)
		out.RequestedOn = formatDate(row.RequestedOn)
		kept = append(kept, out)
	}

	log.Printf("filter: kept %d of %d rows (lookback=%dd, tz=%s)",
		len(kept), len(rows), r.lookbackDays, r.loc)

	return kept
}

// normalize converts t into loc. A zero-offset wall time scanned from a
// timestamp-without-timezone column is already UTC in Go, so conversion
// is all that is needed; offset-carrying values are converted, never
// reinterpreted.
func normalize(t time.Time, loc *time.Location) time.Time {
	return t.In(loc)
}

// formatDate re-renders a date string as YYYY-MM-DD. Unparsable or
// missing values become "" rather than failing the row.
func formatDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range []string{
		time.RFC3339,
		displayDateTime,
		displayDate,
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(displayDate)
		}
	}
	return ""
}
