package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// TIMEZONE must be a loadable IANA zone
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown IANA zone: %v", err),
			})
		}
	}

	// TRACKING_BACKEND must be "postgres" or "redis"
	if cfg.TrackingBackend != "" && cfg.TrackingBackend != "postgres" && cfg.TrackingBackend != "redis" {
		errs = append(errs, ValidationError{
			Field:   "TRACKING_BACKEND",
			Message: fmt.Sprintf("must be 'postgres' or 'redis', got %q", cfg.TrackingBackend),
		})
	}
	if cfg.TrackingBackend == "redis" && cfg.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required when TRACKING_BACKEND=redis",
		})
	}

	// DELIVERY_MODE must be "webhook" or "smtp"
	switch cfg.DeliveryMode {
	case "", "webhook":
		if cfg.WebhookURL == "" {
			errs = append(errs, ValidationError{
				Field:   "WEBHOOK_URL",
				Message: "required when DELIVERY_MODE=webhook",
			})
		}
	case "smtp":
		if cfg.SMTPAddr == "" {
			errs = append(errs, ValidationError{
				Field:   "SMTP_ADDR",
				Message: "required when DELIVERY_MODE=smtp",
			})
		}
		if cfg.SMTPFrom == "" {
			errs = append(errs, ValidationError{
				Field:   "SMTP_FROM",
				Message: "required when DELIVERY_MODE=smtp",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "DELIVERY_MODE",
			Message: fmt.Sprintf("must be 'webhook' or 'smtp', got %q", cfg.DeliveryMode),
		})
	}

	// ENABLE_LINKS requires a base URL to build from
	if cfg.EnableLinks && cfg.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "BASE_URL",
			Message: "required when ENABLE_LINKS=true",
		})
	}

	// TICK_INTERVAL must be a valid positive duration
	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// TRACKING_RETENTION must be a valid positive duration
	if cfg.TrackingRetentionStr != "" {
		d, err := time.ParseDuration(cfg.TrackingRetentionStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TRACKING_RETENTION",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TRACKING_RETENTION",
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
