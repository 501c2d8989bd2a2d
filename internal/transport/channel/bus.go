// Package channel provides the in-memory hand-off between the pipeline
// and the dispatcher.
package channel

import (
	"context"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// Option configures a JobBus.
type Option func(*JobBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *JobBus) {
		b.metrics = sink
	}
}

// JobBus is a buffered channel of notification jobs.
type JobBus struct {
	ch      chan domain.NotificationJob
	metrics MetricsSink // optional, nil = disabled
}

func NewJobBus(buffer int, opts ...Option) *JobBus {
	b := &JobBus{
		ch: make(chan domain.NotificationJob, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a job, blocking until there is buffer space or ctx is done.
func (b *JobBus) Emit(ctx context.Context, job domain.NotificationJob) error {
	select {
	case b.ch <- job:
		b.observe()
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *JobBus) Channel() <-chan domain.NotificationJob {
	return b.ch
}

func (b *JobBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	capacity := cap(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if capacity > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(capacity))
	}
}
