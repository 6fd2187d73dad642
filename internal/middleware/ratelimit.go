package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/civictriage/backend/pkg/logger"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ipLimiter holds a rate limiter and last-seen time per IP.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds the state for IP-based rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	stop     chan struct{}
}

// NewRateLimiter creates a new RateLimiter.
// rps is the allowed requests per second; burst is the max burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup removes IP entries not seen for 5 minutes.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.limiters {
			if time.Since(v.lastSeen) > 5*time.Minute {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	close(rl.stop)
}

// Middleware returns a Gin middleware that enforces IP-based rate limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := rl.getLimiter(ip)

		if !limiter.Allow() {
			response.TooManyRequests(c, "too many requests, please try again later")
			c.Abort()
			return
		}

		c.Next()
	}
}

// DailyCap limits each client IP to limit requests per rolling 24h window,
// counted in Redis so the cap holds across server instances. Redis errors
// let the request through; the in-memory limiter still applies.
func DailyCap(client *redis.Client, prefix string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		key := fmt.Sprintf("%s:%s", prefix, c.ClientIP())
		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn().Err(err).Msg("[RateLimit] Daily cap unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(ctx, key, 24*time.Hour).Err(); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("[RateLimit] Failed to set cap expiry")
			}
		}

		if count > int64(limit) {
			retryAfter, _ := client.TTL(ctx, key).Result()
			if retryAfter > 0 {
				c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			}
			response.TooManyRequests(c, "daily submission limit reached")
			c.Abort()
			return
		}

		c.Next()
	}
}
