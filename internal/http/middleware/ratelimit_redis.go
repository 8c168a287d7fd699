package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"payments_core/internal/logger"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window limiter on Redis INCR/EXPIRE shared by every instance.
// A nil client or a Redis error lets the request through.
type RateLimiter struct {
	rdb redis.UniversalClient
}

func NewRateLimiter(rdb redis.UniversalClient) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// KeyFunc identifies the caller a window is counted for. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

func ByIP(c *gin.Context) string { return c.ClientIP() }

// ByUser keys on the authenticated user and must run after JWT.
func ByUser(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return "u" + strconv.FormatInt(id, 10)
	}
	return ""
}

// Limit allows maxRequests per window for each key.
// key format: rl:<scope>:<window_seconds>:<identifier>
func (l *RateLimiter) Limit(scope string, maxRequests int, window time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	windowSecs := strconv.FormatInt(int64(window.Seconds()), 10)
	return func(c *gin.Context) {
		if l == nil || l.rdb == nil {
			c.Next()
			return
		}
		ident := keyFn(c)
		if ident == "" {
			c.Next()
			return
		}
		key := "rl:" + scope + ":" + windowSecs + ":" + ident
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		val, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("rate limiter unavailable", "error", err)
			c.Header("X-RateLimit-Error", "redis-error")
			c.Next()
			return
		}
		if val == 1 {
			l.rdb.Expire(ctx, key, window)
		}

		remaining := int64(maxRequests) - val
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if val > int64(maxRequests) {
			RLBlocked.WithLabelValues(scope).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		RLRequests.WithLabelValues(scope).Inc()
		c.Next()
	}
}
