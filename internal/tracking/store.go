package tracking

import (
	"context"
	"time"
)

// Store persists the set of already-notified tracking keys across runs.
//
// The pipeline reads it to drop already-seen rows; the dispatcher
// records keys only after a job has been successfully handed to
// delivery, so a crash before hand-off reprocesses rather than silently
// drops.
type Store interface {
	// Seen reports which of the given keys have already been recorded.
	Seen(ctx context.Context, keys []string) (map[string]bool, error)

	// Record marks keys as notified. Re-recording a key is a no-op.
	Record(ctx context.Context, keys []string) error

	// Prune deletes keys recorded before olderThan, up to limit,
	// returning the number removed.
	Prune(ctx context.Context, olderThan time.Time, limit int) (int, error)
}
