// Package tracking derives per-event identity keys and persists the set
// of already-notified keys across runs.
package tracking

import (
	"fmt"
	"strings"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// MissingFieldError reports a row that cannot produce a tracking key.
// It names the missing field and lists the row's populated fields for
// diagnosis.
type MissingFieldError struct {
	Field     string
	Available []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("tracking key: row missing %s (available: %s)",
		e.Field, strings.Join(e.Available, ", "))
}

// Key returns the deduplication identity for a row. It is a pure
// function of (vessel_id, event_id): deterministic, and injective over
// that pair. A row missing either field is an error, not an omission.
func Key(row domain.EventRow) (string, error) {
	if row.VesselID == "" {
		return "", &MissingFieldError{Field: "vessel_id", Available: populatedFields(row)}
	}
	if row.EventID == "" {
		return "", &MissingFieldError{Field: "job_id", Available: populatedFields(row)}
	}
	return fmt.Sprintf("vessel_id_%s__job_id_%s", row.VesselID, row.EventID), nil
}

// Keys derives tracking keys for all rows, in row order.
func Keys(rows []domain.EventRow) ([]string, error) {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		key, err := Key(row)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func populatedFields(row domain.EventRow) []string {
	var fields []string
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, name)
		}
	}
	add("vsl_email", row.VesselEmail)
	add("vessel_id", row.VesselID)
	add("vessel", row.VesselName)
	add("job_id", row.EventID)
	add("importance", row.Importance)
	add("title", row.Title)
	add("dispensation_type", row.Category)
	add("department", row.Department)
	add("due_date", row.DueDate)
	add("requested_on", row.RequestedOn)
	if !row.CreatedAt.IsZero() {
		fields = append(fields, "created_at")
	}
	add("status", row.Status)
	return fields
}
