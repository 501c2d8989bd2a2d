package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the flagalerts application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// Alert query parameters.
	LookbackDays int    `json:"lookback_days"`
	JobStatus    string `json:"job_status"`
	Timezone     string `json:"timezone"` // IANA zone name

	// Link generation. When disabled, rows carry no URL at all.
	EnableLinks bool   `json:"enable_links"`
	BaseURL     string `json:"base_url"`
	URLPath     string `json:"url_path"`

	RoutingFile   string `json:"routing_file"`
	SubjectPrefix string `json:"subject_prefix"`

	// RunSchedule is a five-field cron expression evaluated in Timezone.
	RunSchedule string `json:"run_schedule"`

	// TickInterval is how often the scheduler checks whether the next
	// cron slot has arrived.
	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// TrackingBackend: "postgres" or "redis".
	TrackingBackend       string        `json:"tracking_backend"`
	TrackingRetention     time.Duration `json:"-"`
	TrackingRetentionStr  string        `json:"tracking_retention"`
	RetentionInterval     time.Duration `json:"-"`
	RetentionIntervalStr  string        `json:"retention_interval"`
	RetentionBatchSize    int           `json:"retention_batch_size"`

	// DeliveryMode: "webhook" (signed POST to a notification gateway) or "smtp".
	DeliveryMode       string        `json:"delivery_mode"`
	WebhookURL         string        `json:"webhook_url"`
	WebhookSecret      string        `json:"webhook_secret"`
	DeliveryTimeout    time.Duration `json:"-"`
	DeliveryTimeoutStr string        `json:"delivery_timeout"`
	SMTPAddr           string        `json:"smtp_addr"`
	SMTPFrom           string        `json:"smtp_from"`
	SMTPUsername       string        `json:"smtp_username"`
	SMTPPassword       string        `json:"smtp_password"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderElectionEnabled gates the Postgres advisory-lock elector.
	// All instances sharing the same database must use the same lock key.
	LeaderElectionEnabled      bool          `json:"leader_election_enabled"`
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		JobStatus:                 os.Getenv("JOB_STATUS"),
		Timezone:                  os.Getenv("TIMEZONE"),
		EnableLinks:               os.Getenv("ENABLE_LINKS") == "true",
		BaseURL:                   os.Getenv("BASE_URL"),
		URLPath:                   os.Getenv("URL_PATH"),
		RoutingFile:               os.Getenv("ROUTING_FILE"),
		SubjectPrefix:             os.Getenv("SUBJECT_PREFIX"),
		RunSchedule:               os.Getenv("RUN_SCHEDULE"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		TrackingBackend:           os.Getenv("TRACKING_BACKEND"),
		TrackingRetentionStr:      os.Getenv("TRACKING_RETENTION"),
		RetentionIntervalStr:      os.Getenv("RETENTION_INTERVAL"),
		DeliveryMode:              os.Getenv("DELIVERY_MODE"),
		WebhookURL:                os.Getenv("WEBHOOK_URL"),
		WebhookSecret:             os.Getenv("WEBHOOK_SECRET"),
		DeliveryTimeoutStr:        os.Getenv("DELIVERY_TIMEOUT"),
		SMTPAddr:                  os.Getenv("SMTP_ADDR"),
		SMTPFrom:                  os.Getenv("SMTP_FROM"),
		SMTPUsername:              os.Getenv("SMTP_USERNAME"),
		SMTPPassword:              os.Getenv("SMTP_PASSWORD"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		LeaderElectionEnabled:     os.Getenv("LEADER_ELECTION_ENABLED") == "true",
	}

	if lookbackStr := os.Getenv("LOOKBACK_DAYS"); lookbackStr != "" {
		if n, err := parseInt(lookbackStr); err == nil && n > 0 {
			cfg.LookbackDays = n
		} else {
			log.Printf("config: invalid LOOKBACK_DAYS %q (must be a positive integer), using default 3", lookbackStr)
		}
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 3
	}

	if batchStr := os.Getenv("RETENTION_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.RetentionBatchSize = batch
		}
	}
	if cfg.RetentionBatchSize == 0 {
		cfg.RetentionBatchSize = 500
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 539174", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 539174
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.JobStatus == "" {
		cfg.JobStatus = "pending"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Athens"
	}
	if cfg.URLPath == "" {
		cfg.URLPath = "/jobs/flag-extension-dispensation"
	}
	if cfg.RoutingFile == "" {
		cfg.RoutingFile = "routing.yaml"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "AlertDev"
	}
	if cfg.RunSchedule == "" {
		cfg.RunSchedule = "0 7 * * *"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.TrackingBackend == "" {
		cfg.TrackingBackend = "postgres"
	}
	if cfg.TrackingRetentionStr == "" {
		cfg.TrackingRetentionStr = "2160h" // 90 days
	}
	if cfg.RetentionIntervalStr == "" {
		cfg.RetentionIntervalStr = "12h"
	}
	if cfg.DeliveryMode == "" {
		cfg.DeliveryMode = "webhook"
	}
	if cfg.DeliveryTimeoutStr == "" {
		cfg.DeliveryTimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.TrackingRetentionStr); err == nil {
		cfg.TrackingRetention = d
	}
	if d, err := time.ParseDuration(cfg.RetentionIntervalStr); err == nil {
		cfg.RetentionInterval = d
	}
	if d, err := time.ParseDuration(cfg.DeliveryTimeoutStr); err == nil {
		cfg.DeliveryTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		LookbackDays            int    `json:"lookback_days"`
		JobStatus               string `json:"job_status"`
		Timezone                string `json:"timezone"`
		EnableLinks             bool   `json:"enable_links"`
		BaseURL                 string `json:"base_url"`
		URLPath                 string `json:"url_path"`
		RoutingFile             string `json:"routing_file"`
		SubjectPrefix           string `json:"subject_prefix"`
		RunSchedule             string `json:"run_schedule"`
		TickInterval            string `json:"tick_interval"`
		TrackingBackend         string `json:"tracking_backend"`
		TrackingRetention       string `json:"tracking_retention"`
		RetentionInterval       string `json:"retention_interval"`
		RetentionBatchSize      int    `json:"retention_batch_size"`
		DeliveryMode            string `json:"delivery_mode"`
		WebhookURL              string `json:"webhook_url,omitempty"`
		WebhookSecret           string `json:"webhook_secret,omitempty"`
		DeliveryTimeout         string `json:"delivery_timeout"`
		SMTPAddr                string `json:"smtp_addr,omitempty"`
		SMTPFrom                string `json:"smtp_from,omitempty"`
		SMTPUsername            string `json:"smtp_username,omitempty"`
		SMTPPassword            string `json:"smtp_password,omitempty"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		LookbackDays:            c.LookbackDays,
		JobStatus:               c.JobStatus,
		Timezone:                c.Timezone,
		EnableLinks:             c.EnableLinks,
		BaseURL:                 c.BaseURL,
		URLPath:                 c.URLPath,
		RoutingFile:             c.RoutingFile,
		SubjectPrefix:           c.SubjectPrefix,
		RunSchedule:             c.RunSchedule,
		TickInterval:            c.TickIntervalStr,
		TrackingBackend:         c.TrackingBackend,
		TrackingRetention:       c.TrackingRetentionStr,
		RetentionInterval:       c.RetentionIntervalStr,
		RetentionBatchSize:      c.RetentionBatchSize,
		DeliveryMode:            c.DeliveryMode,
		WebhookURL:              c.WebhookURL,
		WebhookSecret:           maskIfSet(c.WebhookSecret),
		DeliveryTimeout:         c.DeliveryTimeoutStr,
		SMTPAddr:                c.SMTPAddr,
		SMTPFrom:                c.SMTPFrom,
		SMTPUsername:            c.SMTPUsername,
		SMTPPassword:            maskIfSet(c.SMTPPassword),
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
