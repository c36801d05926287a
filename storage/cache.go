package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmossahebi/jello2/domain"
)

// SnapshotBackend reads and writes whole snapshot documents.
type SnapshotBackend interface {
	Fetch(ctx context.Context, userID string) (*domain.State, error)
	Write(ctx context.Context, userID string, s domain.State) error
}

// Cache wraps a SnapshotBackend with a Redis read-through cache. Every
// write evicts the cached snapshot so concurrent writers cannot leave a
// stale entry behind; the next Fetch reads through.
type Cache struct {
	base  SnapshotBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base SnapshotBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Fetch(ctx context.Context, userID string) (*domain.State, error) {
	if s, ok := c.load(ctx, userID); ok {
		return s, nil
	}
	s, err := c.base.Fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s != nil {
		c.store(ctx, userID, *s)
	}
	return s, nil
}

func (c *Cache) Write(ctx context.Context, userID string, s domain.State) error {
	err := c.base.Write(ctx, userID, s)
	c.evict(ctx, userID)
	return err
}

func (c *Cache) load(ctx context.Context, userID string) (*domain.State, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
		}
		return nil, false
	}
	s, err := domain.DecodeState(data)
	if err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
		return nil, false
	}
	return &s, true
}

func (c *Cache) store(ctx context.Context, userID string, s domain.State) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := domain.EncodeState(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
}

func snapshotCacheKey(userID string) string {
	return "jello:snapshot:" + userID
}
