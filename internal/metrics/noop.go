package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted()                                                               {}
func (n *NoopSink) RunCompleted(duration time.Duration, jobsBuilt int, err error)             {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) JobsInFlightIncr()                                                         {}
func (n *NoopSink) JobsInFlightDecr()                                                         {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                                 {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) TrackingKeysPruned(count int)                                              {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}

// Compile-time interface assertion
var _ Sink = (*NoopSink)(nil)
