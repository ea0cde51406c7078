package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion
	CollectRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collect_requests_total",
			Help: "Ingestion calls by response status",
		},
		[]string{"status"},
	)

	CollectEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collect_events_total",
			Help: "Events accepted for insertion",
		},
	)

	CollectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collect_failures_total",
			Help: "Swallowed ingestion failures by pipeline stage",
		},
		[]string{"stage"},
	)

	CollectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collect_duration_seconds",
			Help:    "Time spent writing one ingestion call",
			Buckets: prometheus.DefBuckets,
		},
	)

	BotSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_classifications_total",
			Help: "Ingestion calls by bot classification",
		},
		[]string{"classification"}, // "bot", "human"
	)

	// Enrichment
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_lookups_total",
			Help: "Enrichment resolutions by kind and outcome",
		},
		[]string{"kind", "result"}, // "cached", "cached_error", "fetched", "fetch_error"
	)

	EnrichmentHotCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_hot_cache_total",
			Help: "Redis hot cache reads by kind and outcome",
		},
		[]string{"kind", "result"}, // "hit", "miss", "error"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Schema
	SchemaEnsureRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_ensure_runs_total",
			Help: "DDL runs by result",
		},
		[]string{"result"},
	)

	// Admin
	AdminRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_requests_total",
			Help: "Admin API calls by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)

// ObserveCollect records the duration of one ingestion pipeline run
func ObserveCollect(start time.Time) {
	CollectDuration.Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
