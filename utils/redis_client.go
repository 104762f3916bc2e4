package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/benefits/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
	redisMu     sync.RWMutex
)

// GetRedis returns the shared Redis client, or nil when Redis is disabled or unreachable at boot.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		cfg := config.Get()
		if !cfg.RedisEnabled {
			return
		}
		rc := redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			Sugar.Warnf("redis unavailable at %s, falling back to in-memory paths: %v", rc.Options().Addr, err)
			_ = rc.Close()
			return
		}
		redisMu.Lock()
		redisClient = rc
		redisMu.Unlock()
	})
	redisMu.RLock()
	defer redisMu.RUnlock()
	return redisClient
}

// SetRedis installs rc as the shared client, replacing whatever GetRedis would build.
func SetRedis(rc *redis.Client) {
	redisOnce.Do(func() {})
	redisMu.Lock()
	redisClient = rc
	redisMu.Unlock()
}
