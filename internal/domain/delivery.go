package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryMode string

const (
	DeliveryModeWebhook DeliveryMode = "webhook"
	DeliveryModeSMTP    DeliveryMode = "smtp"
)

// DeliveryConfig describes how built notification jobs are handed off.
type DeliveryConfig struct {
	Mode DeliveryMode

	// Webhook mode: notification gateway endpoint and HMAC secret.
	WebhookURL string
	Secret     string

	// SMTP mode.
	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	Timeout time.Duration
}

type DeliveryAttempt struct {
	ID    uuid.UUID
	JobID uuid.UUID

	Attempt    int
	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NotificationRecord is the persisted log entry for a delivered job.
type NotificationRecord struct {
	ID    uuid.UUID
	JobID uuid.UUID

	Alert      string
	VesselID   string
	VesselName string

	Recipients   []string
	CCRecipients []string
	RowCount     int
	Subject      string

	SentAt time.Time
}
