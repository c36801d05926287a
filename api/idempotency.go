package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers idempotency keys of requests that changed the board
// tree so a retried request is not applied twice.
type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

// RedisDeduper keeps idempotency keys in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	return "jello:idem:" + userID + ":" + key
}

// Add records key and reports whether it was new.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKey(userID, key), 1, r.ttl).Result()
}

// Remove forgets key so a failed request can be retried.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, idempotencyKey(userID, key)).Err()
}
