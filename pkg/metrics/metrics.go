// Package metrics holds the Prometheus instruments for outbound traffic and
// the token exchange and probe outcomes observed by the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signbridge"

// Exchange outcomes.
const (
	ExchangeIssued    = "issued"
	ExchangeRejected  = "rejected"
	ExchangeMalformed = "malformed"
	ExchangeTransport = "transport"
)

// Probe outcomes.
const (
	ProbeHit       = "hit"
	ProbeExhausted = "exhausted"
	ProbeCancelled = "cancelled"
)

// Metrics is the gateway's instrument set, bound to its own registry.
type Metrics struct {
	registry *prometheus.Registry

	inFlightGauge *prometheus.GaugeVec
	requestCount  *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec

	exchangeCount *prometheus.CounterVec
	probeCount    *prometheus.CounterVec
	probeMisses   prometheus.Histogram
}

// New creates a Metrics set with runtime collectors already registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: registry,
		inFlightGauge: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "client_in_flight_requests",
				Help:      "A gauge of in-flight requests for the wrapped client.",
			}, []string{"client"},
		),
		requestCount: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_api_requests_total",
				Help:      "A counter for requests from the wrapped client.",
			}, []string{"code", "method", "client"},
		),
		requestDur: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "client_request_duration_seconds",
				Help:      "A histogram of request latencies.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "client"},
		),
		exchangeCount: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_exchanges_total",
				Help:      "Token exchanges against the authority, by outcome.",
			}, []string{"outcome"},
		),
		probeCount: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Candidate probes, by capability and outcome.",
			}, []string{"capability", "outcome"},
		),
		probeMisses: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_misses",
				Help:      "Failed candidates walked before a probe resolved.",
				Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewRoundTripper wraps next with in-flight, count, and duration instruments
// labelled with the client name.
func (m *Metrics) NewRoundTripper(clientName string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlightGauge.WithLabelValues(clientName),
		promhttp.InstrumentRoundTripperCounter(
			m.requestCount.MustCurryWith(prometheus.Labels{"client": clientName}),
			promhttp.InstrumentRoundTripperDuration(
				m.requestDur.MustCurryWith(prometheus.Labels{"client": clientName}),
				next),
		),
	)
}

// NewClient builds an instrumented HTTP client.
func (m *Metrics) NewClient(clientName string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: m.NewRoundTripper(clientName, http.DefaultTransport),
	}
}

// ObserveExchange counts one token exchange.
func (m *Metrics) ObserveExchange(outcome string) {
	m.exchangeCount.WithLabelValues(outcome).Inc()
}

// ObserveProbe counts one probe and records how many candidates missed before
// it resolved. A cancelled probe carries no miss count and leaves the
// histogram untouched.
func (m *Metrics) ObserveProbe(capability, outcome string, misses int) {
	m.probeCount.WithLabelValues(capability, outcome).Inc()
	if outcome == ProbeCancelled {
		return
	}
	m.probeMisses.Observe(float64(misses))
}
