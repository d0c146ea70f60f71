package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollapp_redis_errors_total",
		Help: "Total number of failed Redis commands",
	}, []string{"command"})

	// ActiveWebSockets is the number of currently upgraded connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pollapp_active_websockets",
		Help: "Number of active WebSocket connections",
	})

	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// InitMetrics returns the process-wide fiberprometheus instance for serviceName.
// The underlying collectors register once with the default registry.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// MetricsMiddleware records HTTP request metrics.
func MetricsMiddleware(p *fiberprometheus.FiberPrometheus) fiber.Handler {
	return p.Middleware
}
