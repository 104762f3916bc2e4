package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const blacklistPrefix = "jwt:blacklist:"

var (
	blacklist   = map[string]time.Time{}
	blacklistMu sync.Mutex
)

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BlacklistToken revokes a token until its natural expiration.
func BlacklistToken(token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	key := blacklistKey(token)
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, blacklistPrefix+key, "1", ttl).Err(); err == nil {
			return
		}
	}
	blacklistMu.Lock()
	blacklist[key] = expiresAt
	blacklistMu.Unlock()
}

// IsTokenBlacklisted checks if a token was revoked before natural expiration.
func IsTokenBlacklisted(token string) bool {
	key := blacklistKey(token)
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := rc.Exists(ctx, blacklistPrefix+key).Result()
		if err == nil && n > 0 {
			return true
		}
	}

	blacklistMu.Lock()
	defer blacklistMu.Unlock()
	expiresAt, ok := blacklist[key]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(blacklist, key)
		return false
	}
	return true
}
