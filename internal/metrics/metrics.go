package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge
	engineOps   *prometheus.CounterVec
	auditErrors prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slam_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slam_api_request_duration_seconds",
			Help:    "API request latency by method/route/status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slam_api_inflight_requests",
			Help: "Requests currently being served.",
		}),
		engineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slam_engine_operations_total",
			Help: "Engine operations by op/result.",
		}, []string{"op", "result"}),
		auditErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_audit_write_failures_total",
			Help: "Activity log writes that failed and were dropped.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight, m.engineOps, m.auditErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	code := strconv.Itoa(status)
	m.apiRequests.WithLabelValues(method, route, code).Inc()
	m.apiLatency.WithLabelValues(method, route, code).Observe(dur.Seconds())
}

func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveOp counts one engine operation. result is "ok" or an error class.
func (m *Metrics) ObserveOp(op, result string) {
	if m == nil {
		return
	}
	m.engineOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditErrors.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
