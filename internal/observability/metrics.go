package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. All methods are
// safe to call on a nil receiver, which records nothing.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	responseSize       *prometheus.HistogramVec
	activeRequests     prometheus.Gauge
	backendHealth      *prometheus.GaugeVec
	backendConnections *prometheus.GaugeVec
	selectionsTotal    *prometheus.CounterVec
	noBackendTotal     *prometheus.CounterVec
	rateLimitDecisions *prometheus.CounterVec
	rateLimitEvictions prometheus.Counter
	healthProbes       *prometheus.CounterVec
	configReloads      *prometheus.CounterVec
	buildInfo          *prometheus.GaugeVec
	startTime          prometheus.Gauge
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trafficgw"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of forwarded requests",
		},
		[]string{"method", "rule", "backend", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Backend round-trip duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"rule", "backend"},
	)

	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_size_bytes",
			Help:      "Backend response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"backend"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of requests currently being forwarded",
		},
	)

	m.backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health status (1=healthy, 0=not healthy)",
		},
		[]string{"backend"},
	)

	m.backendConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connections",
			Help:      "Current connections held against a backend",
		},
		[]string{"backend"},
	)

	m.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lb_selections_total",
			Help:      "Total number of load balancer selections",
		},
		[]string{"algorithm", "backend"},
	)

	m.noBackendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lb_no_backend_total",
			Help:      "Selections that found no available backend",
		},
		[]string{"rule"},
	)

	m.rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by rule and result",
		},
		[]string{"rule", "algorithm", "result"},
	)

	m.rateLimitEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_evictions_total",
			Help:      "Idle rate limit keys evicted by the sweep",
		},
	)

	m.healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Health probes by backend and result",
		},
		[]string{"backend", "result"},
	)

	m.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reloads by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.responseSize,
		m.activeRequests,
		m.backendHealth,
		m.backendConnections,
		m.selectionsTotal,
		m.noBackendTotal,
		m.rateLimitDecisions,
		m.rateLimitEvictions,
		m.healthProbes,
		m.configReloads,
		m.buildInfo,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.startTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordRequest records a forwarded request.
func (m *Metrics) RecordRequest(method, rule, backend string, status int, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, rule, backend, statusStr).Inc()
	m.requestDuration.WithLabelValues(rule, backend).Observe(duration.Seconds())
	if respSize >= 0 {
		m.responseSize.WithLabelValues(backend).Observe(float64(respSize))
	}
}

// IncrementActiveRequests increments the in-flight request gauge.
func (m *Metrics) IncrementActiveRequests() {
	if m == nil {
		return
	}
	m.activeRequests.Inc()
}

// DecrementActiveRequests decrements the in-flight request gauge.
func (m *Metrics) DecrementActiveRequests() {
	if m == nil {
		return
	}
	m.activeRequests.Dec()
}

// SetBackendHealth sets the health gauge for a backend.
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.backendHealth.WithLabelValues(backend).Set(value)
}

// SetBackendConnections sets the connection gauge for a backend.
func (m *Metrics) SetBackendConnections(backend string, connections int64) {
	if m == nil {
		return
	}
	m.backendConnections.WithLabelValues(backend).Set(float64(connections))
}

// DeleteBackend drops all per-backend series for a removed backend.
func (m *Metrics) DeleteBackend(backend string) {
	if m == nil {
		return
	}
	m.backendHealth.DeleteLabelValues(backend)
	m.backendConnections.DeleteLabelValues(backend)
}

// RecordSelection records a successful load balancer selection.
func (m *Metrics) RecordSelection(algorithm, backend string) {
	if m == nil {
		return
	}
	m.selectionsTotal.WithLabelValues(algorithm, backend).Inc()
}

// RecordNoBackend records a selection that found no available backend.
func (m *Metrics) RecordNoBackend(rule string) {
	if m == nil {
		return
	}
	m.noBackendTotal.WithLabelValues(rule).Inc()
}

// RecordRateLimitDecision records an admission decision.
func (m *Metrics) RecordRateLimitDecision(rule, algorithm string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.rateLimitDecisions.WithLabelValues(rule, algorithm, result).Inc()
}

// RecordRateLimitEvictions records keys evicted by a sweep.
func (m *Metrics) RecordRateLimitEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rateLimitEvictions.Add(float64(n))
}

// RecordHealthProbe records the outcome of a health probe.
func (m *Metrics) RecordHealthProbe(backend string, healthy bool) {
	if m == nil {
		return
	}
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	m.healthProbes.WithLabelValues(backend, result).Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
