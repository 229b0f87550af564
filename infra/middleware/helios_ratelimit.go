package middleware

import (
	"fmt"
	"strconv"
	"time"

	"helios_server/pkg/apperr"
	"helios_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig controls the per-IP fixed-window limiter.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultRateLimitConfig returns the default limiter settings.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerMinute: 300}
}

// RateLimiter is a Redis-backed fixed-window limiter keyed by client IP.
// Without Redis the limiter is a pass-through.
type RateLimiter struct {
	client *redis.Client
	cfg    *RateLimitConfig
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, cfg *RateLimitConfig) *RateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimiter{client: client, cfg: cfg}
}

// Handler returns the fiber middleware.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.client == nil || rl.cfg.RequestsPerMinute <= 0 {
			return c.Next()
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("helios:ratelimit:%s:%d", c.IP(), window)

		count, err := rl.client.Incr(c.Context(), key).Result()
		if err != nil {
			// Redis trouble must not take the API down.
			logger.WithError(err).Warn("rate limiter unavailable")
			return c.Next()
		}
		if count == 1 {
			rl.client.Expire(c.Context(), key, time.Minute)
		}

		remaining := int64(rl.cfg.RequestsPerMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.RequestsPerMinute))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.cfg.RequestsPerMinute) {
			c.Set("Retry-After", "60")
			return apperr.ErrRateLimited
		}

		return c.Next()
	}
}
