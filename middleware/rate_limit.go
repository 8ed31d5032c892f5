package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window counter keyed by caller.
type RateLimiter struct {
	mu        sync.Mutex
	tokens    map[string]int
	lastReset time.Time
	rate      int           // requests per window
	window    time.Duration // time window
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:    make(map[string]int),
		lastReset: time.Now(),
		rate:      rate,
		window:    window,
		now:       time.Now,
	}
}

// Allow counts one request for key and reports whether it fits the window,
// plus the time until the window resets.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastReset) > l.window {
		l.tokens = make(map[string]int)
		l.lastReset = now
	}
	retryAfter := l.window - now.Sub(l.lastReset)

	count := l.tokens[key]
	if count >= l.rate {
		return false, retryAfter
	}
	l.tokens[key] = count + 1
	return true, retryAfter
}

// RateLimit limits requests per authenticated caller, or per IP before
// authentication ran.
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		key := GetEmail(c)
		if key == "" {
			key = c.ClientIP()
		}

		ok, retryAfter := limiter.Allow(key)
		if !ok {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "key", key)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
