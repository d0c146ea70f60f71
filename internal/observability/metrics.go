package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VotesTotal counts vote submissions by outcome.
	VotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollapp_votes_total",
		Help: "Total number of vote submissions by outcome",
	}, []string{"status"})

	// VoteSubmitLatency records SubmitVote latency.
	VoteSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pollapp_vote_submit_latency_seconds",
		Help:    "Latency of vote submissions in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CacheRequests counts cache lookups by key family and result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollapp_cache_requests_total",
		Help: "Cache lookups by key family and result (hit or miss)",
	}, []string{"family", "result"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollapp_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pollapp_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// LiveResultsConnections is the gauge of open live-results sockets.
	LiveResultsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pollapp_live_results_connections",
		Help: "Number of open live results WebSocket connections",
	})

	// LiveResultsDrops counts events dropped for slow live-results clients.
	LiveResultsDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollapp_live_results_drops_total",
		Help: "Total number of live results messages dropped due to backpressure",
	})

	// PollsClosedTotal counts polls announced as closed by the expiry sweep.
	PollsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollapp_polls_closed_total",
		Help: "Total number of polls closed by the expiry sweep",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordCache counts a cache lookup.
func RecordCache(family string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(family, result).Inc()
}
