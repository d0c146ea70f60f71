package server

import (
	"net"
	"testing"

	"pollapp/internal/config"
	"pollapp/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func enforceRateLimits(t *testing.T) {
	t.Helper()
	prev := middleware.RateLimitExempt
	middleware.RateLimitExempt = func() bool { return false }
	t.Cleanup(func() { middleware.RateLimitExempt = prev })
}

// sendFrom posts an empty JSON object to path as a client connected from addr.
func (e *testEnv) sendFrom(method, path, addr string, headers header) int {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	req.Header.SetContentType(fiber.MIMEApplicationJSON)
	req.SetBodyString("{}")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(addr), Port: 51000}, nil)
	e.app.Handler()(&ctx)
	return ctx.Response.StatusCode()
}

func TestRateLimits_KeyedBySocketAddress(t *testing.T) {
	enforceRateLimits(t)
	e := newTestEnv(t)

	for i := 0; i < 3; i++ {
		assert.Equal(t, fiber.StatusBadRequest, e.sendFrom(fiber.MethodPost, "/api/auth/signup", "198.51.100.1", nil))
	}
	assert.Equal(t, fiber.StatusTooManyRequests, e.sendFrom(fiber.MethodPost, "/api/auth/signup", "198.51.100.1", nil))

	// A second client keeps its own budget.
	assert.Equal(t, fiber.StatusBadRequest, e.sendFrom(fiber.MethodPost, "/api/auth/signup", "198.51.100.2", nil))

	assert.True(t, e.mr.Exists("rl:signup:ip:198.51.100.1"))
	assert.True(t, e.mr.Exists("rl:signup:ip:198.51.100.2"))
	assert.False(t, e.mr.Exists("rl:signup:ip:unknown"))
}

func TestRateLimits_ForwardedHeadersIgnoredByDefault(t *testing.T) {
	enforceRateLimits(t)
	e := newTestEnv(t)

	for i := 0; i < 3; i++ {
		spoofed := header{"X-Forwarded-For": net.IPv4(203, 0, 113, byte(i+1)).String()}
		e.sendFrom(fiber.MethodPost, "/api/auth/signup", "198.51.100.3", spoofed)
	}
	assert.Equal(t, fiber.StatusTooManyRequests,
		e.sendFrom(fiber.MethodPost, "/api/auth/signup", "198.51.100.3", header{"X-Forwarded-For": "203.0.113.99"}))
}

func TestRateLimits_TrustedProxyHeaders(t *testing.T) {
	enforceRateLimits(t)
	e := newTestEnv(t, func(c *config.Config) { c.TrustProxyHeaders = true })

	for i := 0; i < 3; i++ {
		e.sendFrom(fiber.MethodPost, "/api/auth/signup", "10.0.0.1", header{"X-Forwarded-For": "203.0.113.10"})
	}
	assert.Equal(t, fiber.StatusTooManyRequests,
		e.sendFrom(fiber.MethodPost, "/api/auth/signup", "10.0.0.1", header{"X-Forwarded-For": "203.0.113.10"}))
	assert.Equal(t, fiber.StatusBadRequest,
		e.sendFrom(fiber.MethodPost, "/api/auth/signup", "10.0.0.1", header{"X-Forwarded-For": "203.0.113.11"}))
}
