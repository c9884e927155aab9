// Package metrics exposes Prometheus instruments for both transports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audit_relay"

// Metrics holds the relay's instruments, registered against one registry.
type Metrics struct {
	registry *prometheus.Registry

	interactionsLogged *prometheus.CounterVec
	storageDuration    *prometheus.HistogramVec
	rpcRequests        *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
	rpcInFlight        prometheus.Gauge
	heartbeats         prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	rateLimited        prometheus.Counter
}

// New creates the instruments on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		interactionsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_logged_total",
				Help:      "Total number of interaction log attempts",
			},
			[]string{"transport", "status"},
		),
		storageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Persistence gateway call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of stdio JSON-RPC messages by method and outcome",
			},
			[]string{"method", "status"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "stdio JSON-RPC handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rpcInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_in_flight",
				Help:      "Number of stdio handlers currently running",
			},
		),
		heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_sent_total",
				Help:      "Total number of heartbeat notifications written",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limited_total",
				Help:      "Total number of HTTP requests rejected by the rate limiter",
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.interactionsLogged,
		m.storageDuration,
		m.rpcRequests,
		m.rpcDuration,
		m.rpcInFlight,
		m.heartbeats,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
	)
	return m
}

// Registry returns the registry backing these instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordInteraction counts a log attempt from the given transport.
func (m *Metrics) RecordInteraction(transport, status string) {
	if m == nil {
		return
	}
	m.interactionsLogged.WithLabelValues(transport, status).Inc()
}

// ObserveStorage records how long a gateway operation took.
func (m *Metrics) ObserveStorage(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.storageDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRPC counts a dispatched stdio message and its duration.
func (m *Metrics) RecordRPC(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RPCStarted and RPCFinished track in-flight handlers.
func (m *Metrics) RPCStarted() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

func (m *Metrics) RPCFinished() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordHeartbeat counts one heartbeat write.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// RecordHTTP counts a finished HTTP request.
func (m *Metrics) RecordHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimited counts a request rejected by the limiter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
