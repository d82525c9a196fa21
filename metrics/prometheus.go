package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Request metrics
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authFailures    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec

	// Chain metrics
	tipHeight    prometheus.Gauge
	stagedTxs    prometheus.Gauge
	walkScanned  prometheus.Histogram
	walkReturned prometheus.Histogram

	// Stream metrics
	activeStreams *prometheus.GaugeVec
	notifications *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with its own registry.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	walkBuckets := []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	m := &PrometheusMetrics{
		registry: registry,

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of method calls by transport, method and outcome",
			},
			[]string{"transport", "method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Method call latency",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"transport", "method"},
		),
		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected credentials",
			},
			[]string{"transport", "reason"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"transport"},
		),

		tipHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tip_height",
				Help:      "Index of the last observed chain tip",
			},
		),
		stagedTxs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "staged_transactions",
				Help:      "Number of staged transactions at the last query",
			},
		),
		walkScanned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "walk_scanned_blocks",
				Help:      "Headers visited per topmost blocks walk",
				Buckets:   walkBuckets,
			},
		),
		walkReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "walk_returned_blocks",
				Help:      "Headers returned per topmost blocks walk",
				Buckets:   walkBuckets,
			},
		),

		activeStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_streams",
				Help:      "Number of open streaming connections",
			},
			[]string{"transport"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of change notifications published",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.authFailures,
		m.rateLimited,
		m.tipHeight,
		m.stagedTxs,
		m.walkScanned,
		m.walkReturned,
		m.activeStreams,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Request metrics

func (m *PrometheusMetrics) IncRequests(transport, method, outcome string) {
	m.requests.WithLabelValues(transport, method, outcome).Inc()
}

func (m *PrometheusMetrics) ObserveRequestDuration(transport, method string, d time.Duration) {
	m.requestDuration.WithLabelValues(transport, method).Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncAuthFailures(transport, reason string) {
	m.authFailures.WithLabelValues(transport, reason).Inc()
}

func (m *PrometheusMetrics) IncRateLimited(transport string) {
	m.rateLimited.WithLabelValues(transport).Inc()
}

// Chain metrics

func (m *PrometheusMetrics) SetTipHeight(height int64) {
	m.tipHeight.Set(float64(height))
}

func (m *PrometheusMetrics) SetStagedTransactions(count int) {
	m.stagedTxs.Set(float64(count))
}

func (m *PrometheusMetrics) ObserveWalk(scanned, returned int) {
	m.walkScanned.Observe(float64(scanned))
	m.walkReturned.Observe(float64(returned))
}

// Stream metrics

func (m *PrometheusMetrics) IncActiveStreams(transport string) {
	m.activeStreams.WithLabelValues(transport).Inc()
}

func (m *PrometheusMetrics) DecActiveStreams(transport string) {
	m.activeStreams.WithLabelValues(transport).Dec()
}

func (m *PrometheusMetrics) IncNotifications(kind string) {
	m.notifications.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ Metrics = (*PrometheusMetrics)(nil)
