package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ikak_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ClientRateLimitRejections counts submissions refused by the client-side limiter.
	ClientRateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_client_rate_limit_rejections_total",
		Help: "Total number of client submissions rejected by the local rate limiter",
	}, []string{"action"})

	// AuthOutcomes counts client auth operations by operation and outcome.
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_auth_outcomes_total",
		Help: "Client auth operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// ResolverOutcomes counts user resolution by the path that produced the user.
	ResolverOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_resolver_outcomes_total",
		Help: "User resolution outcomes by path",
	}, []string{"path"})

	// FeedFetchLatency records how long a full feed load takes.
	FeedFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ikak_feed_fetch_latency_seconds",
		Help:    "Feed load latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	// FeedMutations counts feed mutations by operation and result.
	FeedMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_feed_mutations_total",
		Help: "Feed mutations by operation and result",
	}, []string{"operation", "result"})

	// ActiveClientSessions is the gauge of browser sessions held by the web host.
	ActiveClientSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ikak_active_client_sessions",
		Help: "Number of live client sessions held by the web host",
	})

	// PlatformAuthEvents counts platform auth events (signup, sign_in, refresh, sign_out).
	PlatformAuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ikak_platform_auth_events_total",
		Help: "Platform auth events by type and result",
	}, []string{"event", "result"})
)

// DatabaseMetrics records query latency.
type DatabaseMetrics struct{}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics() *DatabaseMetrics {
	return &DatabaseMetrics{}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}

// RecordAuthOutcome increments the auth outcome counter.
func RecordAuthOutcome(operation, outcome string) {
	AuthOutcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordFeedMutation increments the feed mutation counter.
func RecordFeedMutation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FeedMutations.WithLabelValues(operation, result).Inc()
}
