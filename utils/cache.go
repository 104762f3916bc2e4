package utils

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = time.Hour
	cacheOpTimeout  = 2 * time.Second
)

// RedisCache stores JSON encoded values in Redis. Every failure degrades to a cache miss.
type RedisCache struct {
	rc *redis.Client
}

// NewRedisCache wraps rc. A nil client yields a cache that always misses.
func NewRedisCache(rc *redis.Client) *RedisCache {
	return &RedisCache{rc: rc}
}

// Get decodes the cached value for key into dest.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.rc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			Sugar.Debugf("cache get failed key=%s err=%v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		Sugar.Warnf("cache decode failed key=%s err=%v", key, err)
		return false
	}
	return true
}

// Set stores value under key. A non-positive ttl falls back to one hour.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.rc == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, key, b, ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// InvalidatePrefix deletes keys that match the given prefix using SCAN.
func (c *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c == nil || c.rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := c.rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			Sugar.Warnf("cache invalidate failed prefix=%s err=%v", prefix, err)
			return
		}
		cursor = cur
		if len(keys) > 0 {
			if err := c.rc.Del(ctx, keys...).Err(); err != nil {
				Sugar.Warnf("cache delete failed prefix=%s err=%v", prefix, err)
			}
		}
		if cursor == 0 {
			return
		}
	}
}
