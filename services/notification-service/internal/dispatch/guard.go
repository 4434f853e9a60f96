package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard suppresses repeated dispatches of the same key within a TTL.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard implements Guard with SET NX PX.
type RedisGuard struct {
	client redisClient
}

func NewRedisGuard(client redisClient) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dispatch guard: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}

// guardKey buckets now into fixed windows so a retry inside the same window
// collides while a legitimately later dispatch does not.
func guardKey(appointmentID, event string, now time.Time, window time.Duration) string {
	bucket := now.Unix()
	if window > 0 {
		bucket = now.UnixNano() / int64(window)
	}
	return fmt.Sprintf("dispatch:%s:%s:%d", appointmentID, event, bucket)
}

// scheduledGuardKey is keyed on the scheduled message alone: a row is sent
// at most once however often its due event is redelivered within the TTL.
func scheduledGuardKey(scheduledMessageID string) string {
	return "dispatch:scheduled:" + scheduledMessageID
}
