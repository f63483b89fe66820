package proxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the request pipeline.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	obfuscationFailures *prometheus.CounterVec
	upstreamDuration    *prometheus.HistogramVec
	bufferedBytes       prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with all pipeline collectors
// registered on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirage_requests_total",
				Help: "Requests handled, partitioned by classification decision, content kind and outcome",
			},
			[]string{"decision", "kind", "outcome"},
		),

		obfuscationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirage_obfuscation_failures_total",
				Help: "Transformations that failed to parse and fell back to the original body",
			},
			[]string{"kind"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirage_upstream_duration_seconds",
				Help:    "Latency of origin fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		bufferedBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirage_buffered_body_bytes",
				Help:    "Size of origin bodies buffered for transformation",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.obfuscationFailures,
		m.upstreamDuration,
		m.bufferedBytes,
	)

	return m
}

// Handler returns the scrape endpoint for the admin server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a completed request.
func (m *Metrics) RecordRequest(decision, kind, outcome string) {
	m.requestsTotal.WithLabelValues(decision, kind, outcome).Inc()
}

// RecordObfuscationFailure counts a fail-open fallback.
func (m *Metrics) RecordObfuscationFailure(kind string) {
	m.obfuscationFailures.WithLabelValues(kind).Inc()
}

// RecordUpstreamDuration observes origin fetch latency.
func (m *Metrics) RecordUpstreamDuration(outcome string, seconds float64) {
	m.upstreamDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordBufferedBytes observes how much of a body was buffered for parsing.
func (m *Metrics) RecordBufferedBytes(n int) {
	m.bufferedBytes.Observe(float64(n))
}
