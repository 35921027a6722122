package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notification:idempotency:"

// DefaultTTL is how long a completed delivery blocks re-delivery of the
// same idempotency key.
const DefaultTTL = 24 * time.Hour

// IdempotencyGuard is a redis-backed duplicate-delivery check. Once MarkDone
// returns, Exists reports true for the key until the TTL elapses. It is not a
// distributed lock: two consumers racing between Exists and MarkDone can both
// deliver, which is acceptable for notifications.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

func (g *IdempotencyGuard) Exists(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return n > 0, nil
}

func (g *IdempotencyGuard) MarkDone(ctx context.Context, key string) error {
	if err := g.client.Set(ctx, keyPrefix+key, "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark idempotency key: %w", err)
	}
	return nil
}

// Ping reports cache connectivity for the health endpoint.
func (g *IdempotencyGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
