package objstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachingBackend decorates a Backend with a read-through redis cache for
// GetXattr, keyed by (pool, oid, key), invalidated on every SetXattr and
// RemoveXattr. It exists to cut repeated xattr round-trips on the hot
// metaonly/verify request paths; it never changes read/write semantics,
// only removes redundant backend calls.
type CachingBackend struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCachingBackend wraps backend with a redis-backed xattr cache. client
// may point at a production redis instance or, in tests, a miniredis
// server.
func NewCachingBackend(backend Backend, client *redis.Client, ttl time.Duration) *CachingBackend {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachingBackend{Backend: backend, redis: client, ttl: ttl}
}

func (c *CachingBackend) cacheKey(pool, oid, key string) string {
	return "xattr:" + pool + ":" + oid + ":" + key
}

func (c *CachingBackend) GetXattr(ctx context.Context, pool, oid, key string) ([]byte, error) {
	ck := c.cacheKey(pool, oid, key)
	if val, err := c.redis.Get(ctx, ck).Bytes(); err == nil {
		return val, nil
	} else if !errors.Is(err, redis.Nil) {
		// cache unavailable: fall through to the backend rather than fail
		// the read.
		_ = err
	}

	val, err := c.Backend.GetXattr(ctx, pool, oid, key)
	if err != nil {
		return nil, err
	}
	_ = c.redis.Set(ctx, ck, val, c.ttl).Err()
	return val, nil
}

func (c *CachingBackend) SetXattr(ctx context.Context, pool, oid, key string, value []byte, overwrite bool) error {
	if err := c.Backend.SetXattr(ctx, pool, oid, key, value, overwrite); err != nil {
		return err
	}
	_ = c.redis.Del(ctx, c.cacheKey(pool, oid, key)).Err()
	return nil
}

func (c *CachingBackend) RemoveXattr(ctx context.Context, pool, oid, key string) error {
	if err := c.Backend.RemoveXattr(ctx, pool, oid, key); err != nil {
		return err
	}
	_ = c.redis.Del(ctx, c.cacheKey(pool, oid, key)).Err()
	return nil
}
