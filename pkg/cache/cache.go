// Package cache provides the TTL-bounded key/value store shared by
// TokenCache and CredentialCache, backed by Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the minimal interface both TokenCache and CredentialCache sit
// on top of. Implementations must be safe for concurrent use and must
// never block a read on an unrelated key's write.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	EvictByPrefix(ctx context.Context, prefix string) error
}

// RedisCache is the production Cache implementation.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache wraps client, namespacing every key under keyPrefix so
// TokenCache and CredentialCache can share one Redis instance without
// colliding.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) namespacedKey(key string) string {
	return c.keyPrefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.namespacedKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.namespacedKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Evict(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.namespacedKey(key)).Err(); err != nil {
		return fmt.Errorf("cache evict %s: %w", key, err)
	}
	return nil
}

// EvictByPrefix scans and deletes every key under prefix. Used when a
// rotation or revocation needs to drop every cache entry for a clientId,
// including ones keyed by clientId+permission-set.
func (c *RedisCache) EvictByPrefix(ctx context.Context, prefix string) error {
	pattern := c.namespacedKey(prefix) + "*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache evict-by-prefix %s: %w", prefix, err)
	}
	return nil
}
