package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/utils"
)

const limiterIdleTTL = 5 * time.Minute

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// limiterSet keeps one token bucket per client key. Idle buckets are swept
// at most once per limiterIdleTTL.
type limiterSet struct {
	mu        sync.Mutex
	limiters  map[string]*rateLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newLimiterSet(perMinute int) *limiterSet {
	perMinute = max(perMinute, 1)
	return &limiterSet{
		limiters: map[string]*rateLimiter{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
	}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= limiterIdleTTL {
		for k, l := range s.limiters {
			if now.After(l.expires) {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.limiters[key]
	if !ok {
		l = &rateLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = l
	}
	l.expires = now.Add(limiterIdleTTL)
	return l.limiter.AllowN(now, 1)
}

// RateLimitMiddleware applies the general per-IP limit from config.
func RateLimitMiddleware() gin.HandlerFunc {
	return RateLimit(config.Get().RateLimitPerMinute)
}

// RateLimit returns a per-IP token bucket limiter allowing perMinute requests per minute.
// Authenticated requests are keyed by user id instead of IP.
func RateLimit(perMinute int) gin.HandlerFunc {
	set := newLimiterSet(perMinute)
	return func(ctx *gin.Context) {
		key := "ip:" + ctx.ClientIP()
		if uid, ok := ctx.Get(ContextUserIDKey); ok {
			if id, ok := uid.(uint); ok && id != 0 {
				key = "user:" + strconv.FormatUint(uint64(id), 10)
			}
		}

		if !set.allow(key, time.Now()) {
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
