package domain

import "github.com/google/uuid"

// JobMetadata carries the presentation context for one notification.
type JobMetadata struct {
	VesselID    string
	VesselName  string
	AlertTitle  string
	CompanyName string

	// DisplayColumns determines render order in the outbound message.
	// It is a static, alert-owned list, independent of the data.
	DisplayColumns []string

	Subject string
}

// NotificationJob is one fully resolved unit of outbound work.
// It is immutable after the builder returns it and is consumed exactly
// once by the delivery side; it is never persisted as-is.
type NotificationJob struct {
	ID uuid.UUID

	Recipients   []string
	CCRecipients []string

	Rows     []EventRow
	Metadata JobMetadata

	// TrackingKeys are the dedup identities of Rows, in row order.
	// The dispatcher records them only after a successful hand-off.
	TrackingKeys []string
}
