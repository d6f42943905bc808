package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine metrics.
var (
	EngineTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_engine_transitions_total",
		Help: "Coordinator state transitions by source and target state.",
	}, []string{"from", "to"})

	EngineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "themeline_engine_state",
		Help: "Current coordinator state (1 for the active state, 0 otherwise).",
	}, []string{"state"})

	FadesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_fades_total",
		Help: "Completed fades by direction.",
	}, []string{"direction"})

	FadeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "themeline_fade_duration_seconds",
		Help:    "Wall-clock duration of completed fades.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"direction"})

	SelectionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_selection_decisions_total",
		Help: "Selection gate decisions by outcome.",
	}, []string{"decision"})

	TrackLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_track_load_failures_total",
		Help: "Track load failures by kind.",
	}, []string{"kind"})
)

// HTTP control surface metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_api_requests_total",
		Help: "HTTP requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "themeline_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "themeline_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "themeline_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themeline_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "themeline_db_connections_active",
		Help: "Open database connections.",
	})
)

// SetEngineState flips the state gauge so exactly one state reads 1.
func SetEngineState(states []string, active string) {
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
