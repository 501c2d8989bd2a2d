// Package leaderelection elects a single instance to run the alert
// scheduler and the tracking key pruner. Dispatchers run everywhere; a
// Postgres session advisory lock decides who produces jobs.
//
// The lock lives on a dedicated connection for as long as that
// connection lives. There is no TTL and no renewal: when the session
// dies, Postgres drops the lock server-side. The heartbeat only pings
// the connection so a dead session is noticed locally and duties stop
// promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Loss reasons reported to the metrics sink.
const (
	lostShutdown = "shutdown"
	lostConn     = "conn_lost"
)

// MetricsSink records leader election metrics. Implementations must not
// block.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Elector campaigns for the advisory lock and runs the duty callbacks
// around each term of leadership.
type Elector struct {
	db        *sql.DB
	lockKey   int64
	retry     time.Duration
	heartbeat time.Duration

	onElected func(ctx context.Context)
	onDemoted func()

	metrics MetricsSink
}

// New creates an Elector.
//
// onElected runs in its own goroutine once the lock is held; its context
// is cancelled when the term ends. It should start the scheduler and
// pruner and return. onDemoted runs synchronously at the end of a term
// and must block until duties have stopped; it must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retry, heartbeat time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:        db,
		lockKey:   lockKey,
		retry:     retry,
		heartbeat: heartbeat,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run campaigns until ctx is cancelled. Each iteration either fails to
// take the lock and sleeps, or holds a full term of leadership.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: campaigning (lock_key=%d, retry=%s, heartbeat=%s)",
		e.lockKey, e.retry, e.heartbeat)

	for ctx.Err() == nil {
		if held, reason := e.term(ctx); held {
			log.Printf("leader: term ended (reason=%s)", reason)
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.retry):
		}
	}
	log.Println("leader: campaign stopped")
}

// term tries the lock once and, if acquired, holds it until the
// connection dies or ctx is cancelled. held reports whether this
// instance led at all during the call.
func (e *Elector) term(ctx context.Context) (held bool, reason string) {
	// Session advisory locks bind to one connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: dedicated connection: %v", err)
		return false, ""
	}
	defer conn.Close()

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&got); err != nil {
		log.Printf("leader: try lock: %v", err)
		return false, ""
	}
	if !got {
		return false, ""
	}

	log.Printf("leader: elected (lock_key=%d)", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	termCtx, endTerm := context.WithCancel(ctx)
	go e.onElected(termCtx)

	reason = e.watchConnection(ctx, conn)

	endTerm()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	// Best-effort explicit release so followers can take over without
	// waiting for the server to reap the session.
	if reason == lostShutdown {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(releaseCtx, "SELECT pg_advisory_unlock($1)", e.lockKey); err != nil {
			log.Printf("leader: unlock: %v", err)
		}
	}

	log.Printf("leader: demoted (lock_key=%d)", e.lockKey)
	return true, reason
}

// watchConnection pings the lock-holding connection until it fails or
// ctx is cancelled. The ping detects session death; it never renews
// anything.
func (e *Elector) watchConnection(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return lostShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return lostShutdown
				}
				log.Printf("leader: heartbeat ping: %v", err)
				return lostConn
			}
		}
	}
}
