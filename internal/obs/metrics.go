package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dufeut/mik/internal/breaker"
)

// Metrics is the Prometheus registry backing /metrics, exposing exactly the
// series spec.md §6 requires plus the per-backend gauges the load balancer
// needs for observability.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal           prometheus.Counter
	CacheEntries            prometheus.Gauge
	CacheBytes              prometheus.Gauge
	CacheCapacityBytes      prometheus.Gauge
	MaxConcurrentRequests   prometheus.Gauge
	CircuitBreakerState     *prometheus.GaugeVec
	MemoryBytes             prometheus.Gauge
	BackendHealthy          *prometheus.GaugeVec
	BackendActiveRequests   *prometheus.GaugeVec
}

// NewMetrics constructs and registers every series on a fresh registry, the
// same shape as the teacher's prometheus wiring (one registry per process,
// constructed once at startup and threaded through SharedState).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mik_requests_total",
			Help: "Total number of requests handled by the runtime.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mik_cache_entries",
			Help: "Number of modules currently held in the module cache.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mik_cache_bytes",
			Help: "Current total byte weight of the module cache.",
		}),
		CacheCapacityBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mik_cache_capacity_bytes",
			Help: "Configured byte ceiling of the module cache.",
		}),
		MaxConcurrentRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mik_max_concurrent_requests",
			Help: "Configured global concurrency ceiling.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mik_circuit_breaker_state",
			Help: "Circuit breaker state per module: 0=closed, 1=open, 2=half_open.",
		}, []string{"module"}),
		MemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mik_memory_bytes",
			Help: "Approximate process memory usage in bytes.",
		}),
		BackendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mik_lb_backend_healthy",
			Help: "Load balancer backend health: 1=healthy, 0=unhealthy.",
		}, []string{"backend"}),
		BackendActiveRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mik_lb_backend_active_requests",
			Help: "Load balancer backend in-flight request count.",
		}, []string{"backend"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.CacheEntries,
		m.CacheBytes,
		m.CacheCapacityBytes,
		m.MaxConcurrentRequests,
		m.CircuitBreakerState,
		m.MemoryBytes,
		m.BackendHealthy,
		m.BackendActiveRequests,
	)

	return m
}

// Handler returns the http.Handler serving Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CircuitStateValue maps a breaker.State to the gauge value the spec
// mandates (0=closed, 1=open, 2=half_open). Declared here, not in
// internal/breaker, to keep the metrics encoding out of the breaker's own
// package boundary.
func CircuitStateValue(s breaker.State) float64 {
	switch s {
	case breaker.Open:
		return 1
	case breaker.HalfOpen:
		return 2
	default:
		return 0
	}
}

// SetCircuitBreakerStates refreshes the per-module circuit-breaker gauge
// from a breaker's full snapshot.
func (m *Metrics) SetCircuitBreakerStates(snapshot []breaker.StateSnapshot) {
	for _, s := range snapshot {
		m.CircuitBreakerState.WithLabelValues(s.Key).Set(CircuitStateValue(s.State))
	}
}

// UpdateBackendMetrics implements lb.MetricsRecorder, wiring the health
// checker's per-cycle observations straight into the backend gauges.
func (m *Metrics) UpdateBackendMetrics(address string, healthy bool, activeRequests int64) {
	healthyValue := 0.0
	if healthy {
		healthyValue = 1.0
	}
	m.BackendHealthy.WithLabelValues(address).Set(healthyValue)
	m.BackendActiveRequests.WithLabelValues(address).Set(float64(activeRequests))
}
