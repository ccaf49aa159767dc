package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/forecast-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider section fetches by role and outcome. Watch for: timeout or server_error share rising.
	SectionFetchTotal *prometheus.CounterVec

	// Provider latency per section fetch. Watch for: p99 approaching the section timeout.
	SectionFetchDuration *prometheus.HistogramVec

	// Terminal events by result ("success" or error kind).
	ForecastResultsTotal *prometheus.CounterVec

	// End-to-end latency of a forecast request, validation through merge.
	ForecastDuration prometheus.Histogram

	// Requests whose terminal event was suppressed, by reason (canceled, superseded).
	ForecastsSuppressedTotal *prometheus.CounterVec

	// Cache hits by type (fresh, stale).
	CacheHitsTotal *prometheus.CounterVec

	// Cache errors by operation. Watch for: memcached connectivity.
	CacheErrorsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	SectionFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectionFetchTotal",
			Help: "Total number of provider section fetches",
		},
		[]string{"role", "outcome"},
	)
	SectionFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sectionFetchDurationSeconds",
			Help:    "Provider section fetch latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"role", "outcome"},
	)
	ForecastResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastResultsTotal",
			Help: "Terminal forecast events by result",
		},
		[]string{"result"},
	)
	ForecastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecastDurationSeconds",
			Help:    "Forecast request latency in seconds from validation to terminal event",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)
	ForecastsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastsSuppressedTotal",
			Help: "Forecast requests cancelled before their terminal event",
		},
		[]string{"reason"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of forecast cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of forecast cache errors",
		},
		[]string{"operation"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		SectionFetchTotal, SectionFetchDuration,
		ForecastResultsTotal, ForecastDuration, ForecastsSuppressedTotal,
		CacheHitsTotal, CacheErrorsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RegisterTrafficGauges registers sliding-window request and error gauges.
// Call from main after config load; window matches the health error-rate window.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "forecastRequestsInWindow",
					Help: "Forecast requests (including 429s) in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "forecastErrorsInWindow",
					Help: "Forecast errors in sliding window; drives degraded health",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
		)
	})
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
// state is 0 closed, 1 half-open, 2 open.
func RecordCircuitBreakerTransition(component, from, to string, state float64) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
