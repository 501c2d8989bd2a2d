package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey is the sorted set holding notified keys, scored by the unix
// time each key was recorded.
const redisKey = "flagalerts:notified_keys"

// RedisStore implements Store on a Redis sorted set.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore creates a Redis-backed tracking store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

// WithClock overrides the time source. For tests.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) Seen(ctx context.Context, keys []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return seen, nil
	}

	scores, err := s.client.ZMScore(ctx, redisKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zmscore: %w", err)
	}
	for i, key := range keys {
		// ZMSCORE yields 0 for absent members in go-redis; a recorded
		// key always has a positive unix-time score.
		seen[key] = i < len(scores) && scores[i] > 0
	}
	return seen, nil
}

func (s *RedisStore) Record(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	now := float64(s.clock().UTC().Unix())
	members := make([]redis.Z, 0, len(keys))
	for _, key := range keys {
		members = append(members, redis.Z{Score: now, Member: key})
	}

	// NX keeps the original recorded_at on replays.
	if err := s.client.ZAddNX(ctx, redisKey, members...).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

func (s *RedisStore) Prune(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	expired, err := s.client.ZRangeByScore(ctx, redisKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(olderThan.UTC().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(expired))
	for i, m := range expired {
		members[i] = m
	}
	removed, err := s.client.ZRem(ctx, redisKey, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrem: %w", err)
	}
	return int(removed), nil
}

// Compile-time interface assertion
var _ Store = (*RedisStore)(nil)
