package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Pipeline run metrics
	RunStarted()
	RunCompleted(duration time.Duration, jobsBuilt int, err error)

	// Dispatcher metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// Job bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Retention metrics
	TrackingKeysPruned(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
