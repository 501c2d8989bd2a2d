// Package retention prunes expired tracking keys.
//
// Tracking keys only need to outlive the alert's lookback window: once
// an event is too old to be fetched again, its key can never suppress
// anything. Pruning keeps the notified-key set from growing without
// bound.
package retention

import (
	"context"
	"log"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
)

// MetricsSink defines the interface for recording retention metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TrackingKeysPruned(count int)
}

// Config holds pruner configuration.
type Config struct {
	// Interval is how often the pruner runs.
	Interval time.Duration

	// Retention is how long recorded keys are kept. Must comfortably
	// exceed the lookback window.
	Retention time.Duration

	// BatchSize is the maximum number of keys removed per cycle.
	BatchSize int
}

// DefaultConfig returns the default pruner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  12 * time.Hour,
		Retention: 90 * 24 * time.Hour,
		BatchSize: 500,
	}
}

// Pruner periodically removes expired tracking keys.
type Pruner struct {
	config  Config
	store   tracking.Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Pruner.
func New(config Config, store tracking.Store) *Pruner {
	return &Pruner{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the pruner.
func (p *Pruner) WithMetrics(sink MetricsSink) *Pruner {
	p.metrics = sink
	return p
}

// WithClock overrides the time source. For tests.
func (p *Pruner) WithClock(clock func() time.Time) *Pruner {
	p.clock = clock
	return p
}

// Run starts the pruning loop. It blocks until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	log.Printf("retention: started (interval=%s, retention=%s, batch=%d)",
		p.config.Interval, p.config.Retention, p.config.BatchSize)

	// Run immediately on startup, then on ticker
	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("retention: stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle executes one pruning cycle.
func (p *Pruner) runCycle(ctx context.Context) {
	olderThan := p.clock().UTC().Add(-p.config.Retention)

	removed, err := p.store.Prune(ctx, olderThan, p.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("retention: prune failed: %v", err)
		return
	}

	if removed == 0 {
		// Nothing to do. Silent success.
		return
	}

	if p.metrics != nil {
		p.metrics.TrackingKeysPruned(removed)
	}
	log.Printf("retention: pruned %d expired tracking key(s)", removed)
}
