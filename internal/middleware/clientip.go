package middleware

import (
	"net"
	"strings"

	"pollapp/internal/models"

	"github.com/gofiber/fiber/v2"
)

// clientIPHeaders are consulted in order; the first parseable address wins.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"Fastly-Client-IP",
}

// ClientIP resolves the caller's address from proxy headers. X-Forwarded-For
// contributes its first hop. When no header carries a valid address the socket
// address is used if trustRemote is set, otherwise models.UnknownIP.
func ClientIP(c *fiber.Ctx, trustRemote bool) string {
	for _, h := range clientIPHeaders {
		raw := c.Get(h)
		if raw == "" {
			continue
		}
		if h == "X-Forwarded-For" {
			raw, _, _ = strings.Cut(raw, ",")
		}
		if ip := normalizeIP(raw); ip != "" {
			return ip
		}
	}
	if trustRemote {
		if ip := normalizeIP(c.Context().RemoteIP().String()); ip != "" {
			return ip
		}
	}
	return models.UnknownIP
}

func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(strings.Trim(raw, "[]"))
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
