package domain

import "time"

// EventRow is one flag extension/dispensation request fetched from the
// fleet database. (vessel_id, event_id) is globally unique and stable
// across runs; tracking keys depend on that.
type EventRow struct {
	VesselEmail string
	VesselID    string
	VesselName  string
	EventID     string

	Importance string
	Title      string
	Category   string // dispensation type
	Department string
	Status     string

	// CreatedAt is the instant the request was synced, as stored.
	CreatedAt time.Time

	// Display values, populated by the recency filter. Unparsable or
	// missing dates become "" rather than failing the row.
	CreatedAtDisplay string
	DueDate          string
	RequestedOn      string

	// LinkURL is set by the router when link generation is enabled.
	// Nil means links are disabled, not "no link for this row".
	LinkURL *string
}
