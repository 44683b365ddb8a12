package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisWrapper "github.com/weftworks/weft/common/redis"
)

// RedisCache backs the cache interface with Redis, so cache invalidation
// reaches every service instance.
type RedisCache struct {
	redis *redisWrapper.Client
}

// NewRedisCache wraps an existing Redis connection. The connection's
// lifetime is owned by the caller; Close here is a no-op.
func NewRedisCache(client *redisWrapper.Client) *RedisCache {
	return &RedisCache{redis: client}
}

// Get retrieves a value, reporting a miss without error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.redis.GetUnderlying().Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.redis.GetUnderlying().Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.redis.GetUnderlying().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the underlying connection is shared.
func (c *RedisCache) Close() error {
	return nil
}
