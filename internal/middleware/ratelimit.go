package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/photomosaic/api/pkg/response"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RateLimiter counts requests per client in fixed Redis windows.
type RateLimiter struct {
	redis redis.Cmdable
}

func NewRateLimiter(client redis.Cmdable) *RateLimiter {
	return &RateLimiter{redis: client}
}

// Limit allows maxRequests per window for each client IP under keyPrefix.
// A non-positive maxRequests disables the limit. When Redis is unreachable
// requests are let through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 || rl.redis == nil {
			return c.Next()
		}

		key := "ratelimit:" + keyPrefix + ":" + c.IP()
		ctx := c.UserContext()

		// The counter is created with its expiry so it never outlives the
		// window, even if the client disconnects between commands.
		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, key, 0, window)
			incr = pipe.Incr(ctx, key)
			ttl = pipe.TTL(ctx, key)
			return nil
		})
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			return c.Next()
		}

		count := int(incr.Val())
		remaining := max(maxRequests-count, 0)
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > maxRequests {
			retry := int(ttl.Val().Seconds())
			if retry <= 0 {
				retry = int(window.Seconds())
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			log.WithFields(log.Fields{"limit": keyPrefix, "ip": c.IP()}).Debug("rate limited")
			return response.RateLimited(c)
		}

		return c.Next()
	}
}

// RenderLimit limits new mosaic jobs per hour.
func (rl *RateLimiter) RenderLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("render", maxPerHour, time.Hour)
}

// HQLimit limits high quality renders per hour.
func (rl *RateLimiter) HQLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("hq", maxPerHour, time.Hour)
}
