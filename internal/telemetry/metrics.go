package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CarrierErrors    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	LabelsIssued     *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	RateLimited      prometheus.Counter
	CatalogMutations *prometheus.CounterVec
}

// NewMetrics creates and registers metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_carrier_requests_total",
				Help: "Carrier adapter calls by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironfreight_carrier_request_duration_seconds",
				Help:    "Carrier adapter call duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_carrier_errors_total",
				Help: "Carrier errors by carrier and error code",
			},
			[]string{"carrier", "error_type"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_http_requests_total",
				Help: "HTTP requests by route, method, and status code",
			},
			[]string{"route", "method", "code"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironfreight_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		LabelsIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_labels_issued_total",
				Help: "Labels stored and signed, by carrier",
			},
			[]string{"carrier"},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_events_published_total",
				Help: "Shipment events by type and outcome",
			},
			[]string{"event_type", "status"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ironfreight_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		RateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ironfreight_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
		),
		CatalogMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironfreight_catalog_mutations_total",
				Help: "Catalog mutations by kind and operation",
			},
			[]string{"kind", "operation"},
		),
	}
}

// RecordRequest records a carrier call.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error.
func (m *Metrics) RecordError(carrier, errorType string) {
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordBreakerState sets the gauge for a breaker. It matches the signature
// of gobreaker's OnStateChange.
func (m *Metrics) RecordBreakerState(name string, _ gobreaker.State, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
