// Package middleware provides request-scoped middleware: logging, metrics, tracing,
// rate limiting and client address resolution.
package middleware

import (
	"context"
	"fmt"
	"os"
	"time"

	"pollapp/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// RateLimitExempt reports whether rate limiting is skipped for the current APP_ENV.
// Tests that exercise the limiter override it.
var RateLimitExempt = func() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit checks if a resource has exceeded its rate limit.
// Returns true if allowed, false if limit exceeded.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if RateLimitExempt() {
		return true, nil
	}
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		RedisErrors.WithLabelValues("ratelimit").Inc()
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// KeyFunc names the bucket an anonymous caller is counted in.
type KeyFunc func(c *fiber.Ctx) string

// AddressKey keys callers by the socket address. With trustProxyHeaders the
// first forwarding header that parses as an IP wins, for deployments behind a
// load balancer that sets them.
func AddressKey(trustProxyHeaders bool) KeyFunc {
	return func(c *fiber.Ctx) string {
		if trustProxyHeaders {
			if ip := ClientIP(c, false); ip != models.UnknownIP {
				return ip
			}
		}
		return c.IP()
	}
}

// RateLimit returns a Fiber middleware enforcing `limit` requests per `window`.
// It keys by authenticated userID (if set in c.Locals("userID")) otherwise by key(c).
// It defaults to FailOpen policy.
func RateLimit(rdb *redis.Client, key KeyFunc, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, key, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy returns a Fiber middleware enforcing `limit` requests per `window` with a specific failure policy.
// A nil key uses the socket address.
func RateLimitWithPolicy(rdb *redis.Client, key KeyFunc, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	if key == nil {
		key = AddressKey(false)
	}
	return func(c *fiber.Ctx) error {
		var id string
		if uid, ok := c.Locals("userID").(uint); ok && uid != 0 {
			id = fmt.Sprintf("user:%d", uid)
		} else {
			id = "ip:" + key(c)
		}

		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		allowed, err := CheckRateLimit(c.UserContext(), rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit fail-closed",
					"path", c.Path(), "resource", resource, "error", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
