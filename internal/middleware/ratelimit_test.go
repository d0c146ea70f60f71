package middleware

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func enforceRateLimits(t *testing.T) {
	t.Helper()
	prev := RateLimitExempt
	RateLimitExempt = func() bool { return false }
	t.Cleanup(func() { RateLimitExempt = prev })
}

func TestCheckRateLimit_ExemptEnvironments(t *testing.T) {
	for _, env := range []string{"test", "development", "stress"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv("APP_ENV", env)
			allowed, err := CheckRateLimit(context.Background(), nil, "vote", "ip:1.2.3.4", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, allowed)
		})
	}
}

func TestCheckRateLimit_NilRedis(t *testing.T) {
	enforceRateLimits(t)
	allowed, err := CheckRateLimit(context.Background(), nil, "vote", "ip:1.2.3.4", 1, time.Minute)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestCheckRateLimit_CountsWithinWindow(t *testing.T) {
	enforceRateLimits(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "vote", "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := CheckRateLimit(ctx, rdb, "vote", "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.True(t, mr.TTL("rl:vote:user:1") > 0)

	mr.FastForward(2 * time.Minute)
	allowed, err = CheckRateLimit(ctx, rdb, "vote", "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	enforceRateLimits(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	app := fiber.New()
	app.Post("/vote", RateLimit(rdb, AddressKey(true), 1, time.Minute, "vote"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/vote", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, send())
	assert.Equal(t, fiber.StatusTooManyRequests, send())
	assert.True(t, mr.Exists("rl:vote:ip:203.0.113.5"))
}

func TestRateLimitFailPolicies(t *testing.T) {
	enforceRateLimits(t)

	app := fiber.New()
	app.Get("/open", RateLimitWithPolicy(nil, nil, 1, time.Minute, FailOpen, "open"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/closed", RateLimitWithPolicy(nil, nil, 1, time.Minute, FailClosed, "closed"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/open", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/closed", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

// serveFrom runs one request through app as if it arrived from addr.
func serveFrom(app *fiber.App, method, path, addr string, headers map[string]string) int {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(addr), Port: 40000}, nil)
	app.Handler()(&ctx)
	return ctx.Response.StatusCode()
}

func TestRateLimitMiddleware_SeparateBucketsPerAddress(t *testing.T) {
	enforceRateLimits(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	app := fiber.New()
	app.Post("/signup", RateLimit(rdb, AddressKey(false), 1, time.Minute, "signup"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	assert.Equal(t, fiber.StatusCreated, serveFrom(app, fiber.MethodPost, "/signup", "198.51.100.1", nil))
	assert.Equal(t, fiber.StatusTooManyRequests, serveFrom(app, fiber.MethodPost, "/signup", "198.51.100.1", nil))
	assert.Equal(t, fiber.StatusCreated, serveFrom(app, fiber.MethodPost, "/signup", "198.51.100.2", nil))

	assert.True(t, mr.Exists("rl:signup:ip:198.51.100.1"))
	assert.True(t, mr.Exists("rl:signup:ip:198.51.100.2"))
	assert.False(t, mr.Exists("rl:signup:ip:unknown"))
}

func TestAddressKey_ProxyHeaders(t *testing.T) {
	app := fiber.New()
	var trusted, untrusted string
	app.Get("/", func(c *fiber.Ctx) error {
		trusted = AddressKey(true)(c)
		untrusted = AddressKey(false)(c)
		return nil
	})

	serveFrom(app, fiber.MethodGet, "/", "10.0.0.7", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"})
	assert.Equal(t, "203.0.113.9", trusted)
	assert.Equal(t, "10.0.0.7", untrusted)

	serveFrom(app, fiber.MethodGet, "/", "10.0.0.8", map[string]string{"X-Forwarded-For": "not-an-ip"})
	assert.Equal(t, "10.0.0.8", trusted)
}

func TestRateLimitMiddleware_UserBucketIgnoresAddress(t *testing.T) {
	enforceRateLimits(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	app := fiber.New()
	app.Post("/vote", func(c *fiber.Ctx) error {
		c.Locals("userID", uint(7))
		return c.Next()
	}, RateLimit(rdb, nil, 1, time.Minute, "vote"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	assert.Equal(t, fiber.StatusCreated, serveFrom(app, fiber.MethodPost, "/vote", "198.51.100.1", nil))
	assert.Equal(t, fiber.StatusTooManyRequests, serveFrom(app, fiber.MethodPost, "/vote", "198.51.100.2", nil))
	assert.True(t, mr.Exists("rl:vote:user:7"))
}
