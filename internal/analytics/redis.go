// Package analytics keeps best-effort per-vessel notification counters
// in Redis. Failures are logged and never affect dispatch correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// DefaultRetention is how long counter buckets are kept.
const DefaultRetention = 90 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

// WithRetention overrides the counter bucket TTL.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// Record increments the daily notification and row counters for the
// job's vessel.
func (s *RedisSink) Record(ctx context.Context, job domain.NotificationJob) {
	day := s.clock().UTC().Format("20060102")
	notifKey := buildKey(job.Metadata.VesselID, "notifications", day)
	rowsKey := buildKey(job.Metadata.VesselID, "rows", day)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, notifKey)
	pipe.Expire(ctx, notifKey, s.retention)
	pipe.IncrBy(ctx, rowsKey, int64(len(job.Rows)))
	pipe.Expire(ctx, rowsKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(vesselID, counter, bucket string) string {
	return fmt.Sprintf("flagalerts:v:%s:%s:%s", vesselID, counter, bucket)
}
