// Package metrics provides Prometheus instrumentation for the data gateway.
// All metric collectors are registered via the Init function and exposed
// through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequestsTotal counts dispatched upstream calls by service and outcome.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Total upstream API calls dispatched",
		},
		[]string{"service", "outcome"},
	)

	// UpstreamDuration observes upstream call latency in seconds by service.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// CacheOutcomes counts cache read results by service and status
	// (fresh, stale, miss).
	CacheOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_outcomes_total",
			Help: "Cache read outcomes",
		},
		[]string{"service", "status"},
	)

	// RateBudgetUsed tracks how much of the fixed-window budget is consumed
	// per service.
	RateBudgetUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_rate_budget_used",
			Help: "Calls consumed in the current rate window",
		},
		[]string{"service"},
	)

	// SchedulerQueueDepth tracks queued-but-undispatched calls per service.
	SchedulerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_scheduler_queue_depth",
			Help: "Calls waiting in the dispatch queue",
		},
		[]string{"service"},
	)

	// CircuitBreakerState exports the current breaker state per service
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// CircuitBreakerStateChanges counts breaker transitions by service and edge.
	CircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	// BulkheadRejections counts calls rejected by the concurrency bulkhead.
	BulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bulkhead_rejections_total",
			Help: "Calls rejected because the concurrency limit was reached",
		},
		[]string{"service"},
	)

	// BulkheadInFlight tracks in-flight upstream calls per service.
	BulkheadInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_bulkhead_in_flight",
			Help: "In-flight upstream calls",
		},
		[]string{"service"},
	)

	// RetryTotal counts retry attempts by service.
	RetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total retry attempts",
		},
		[]string{"service"},
	)

	// ParseFailures counts ephemeris payloads the parser rejected, by reason.
	ParseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ephemeris_parse_failures_total",
			Help: "Ephemeris payloads rejected as malformed",
		},
		[]string{"reason"},
	)

	// StaleServed counts responses answered from a stale cache entry after a
	// fetch failure.
	StaleServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stale_served_total",
			Help: "Responses served from stale cache after fetch failure",
		},
		[]string{"service"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		UpstreamRequestsTotal,
		UpstreamDuration,
		CacheOutcomes,
		RateBudgetUsed,
		SchedulerQueueDepth,
		CircuitBreakerState,
		CircuitBreakerStateChanges,
		BulkheadRejections,
		BulkheadInFlight,
		RetryTotal,
		ParseFailures,
		StaleServed,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
