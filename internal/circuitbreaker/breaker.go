// Package circuitbreaker guards delivery destinations that are failing
// repeatedly. State is tracked per destination (gateway URL or
// recipient address), so one dead mailbox cannot block the fleet.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuit is the per-destination state machine. A closed circuit lets
// everything through. After threshold consecutive failures it opens
// and rejects until the cooldown elapses, then admits a single probe
// (half-open); the probe's outcome closes or reopens it.
type circuit struct {
	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow reports whether a send to destination may proceed right now.
func (cb *CircuitBreaker) Allow(destination string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[destination]
	if !ok || !c.open {
		return nil
	}
	if c.probing {
		return ErrCircuitOpen
	}
	if cb.clock().Sub(c.openedAt) < cb.cooldown {
		return ErrCircuitOpen
	}

	// Cooldown elapsed: admit exactly one probe until its outcome
	// is recorded.
	c.probing = true
	return nil
}

// RecordSuccess closes the destination's circuit.
func (cb *CircuitBreaker) RecordSuccess(destination string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[destination]; ok {
		c.failures = 0
		c.open = false
		c.probing = false
	}
}

// RecordFailure counts a failed send; at threshold the circuit opens
// and the cooldown starts (or restarts, after a failed probe).
func (cb *CircuitBreaker) RecordFailure(destination string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[destination]
	if !ok {
		c = &circuit{}
		cb.circuits[destination] = c
	}

	c.failures++
	c.probing = false
	if c.failures >= cb.threshold {
		c.open = true
		c.openedAt = cb.clock()
	}
}
