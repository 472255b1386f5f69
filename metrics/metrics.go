package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcome labels.
const (
	OutcomeSuccess           = "success"
	OutcomeValidationFailure = "validation_failure"
	OutcomeToolNotFound      = "tool_not_found"
	OutcomeTimeout           = "timeout"
	OutcomeInputWrite        = "input_write_failure"
	OutcomeOutputRead        = "output_read_failure"
)

type Metrics struct {
	registry *prometheus.Registry

	conversionsTotal   *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	conversionInFlight prometheus.Gauge
	diagnosticsPerRun  prometheus.Histogram
	schedulesTotal     *prometheus.CounterVec
	openDocuments      prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	conversionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfclive",
			Subsystem: "convert",
			Name:      "conversions_total",
			Help:      "Total xml2rfc invocations by outcome.",
		},
		[]string{"outcome"},
	)
	conversionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rfclive",
			Subsystem: "convert",
			Name:      "conversion_duration_seconds",
			Help:      "xml2rfc invocation duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)
	conversionInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rfclive",
			Subsystem: "convert",
			Name:      "conversions_in_flight",
			Help:      "Number of running xml2rfc invocations.",
		},
	)
	diagnosticsPerRun := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rfclive",
			Subsystem: "convert",
			Name:      "diagnostics_per_conversion",
			Help:      "Diagnostics parsed from a single xml2rfc invocation.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
	schedulesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfclive",
			Subsystem: "workspace",
			Name:      "schedule_requests_total",
			Help:      "Scheduling requests drained from the queue by disposition.",
		},
		[]string{"disposition"},
	)
	openDocuments := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rfclive",
			Subsystem: "workspace",
			Name:      "open_documents",
			Help:      "Number of tracked documents.",
		},
	)

	registry.MustRegister(conversionsTotal, conversionDuration, conversionInFlight, diagnosticsPerRun, schedulesTotal, openDocuments)

	return &Metrics{
		registry:           registry,
		conversionsTotal:   conversionsTotal,
		conversionDuration: conversionDuration,
		conversionInFlight: conversionInFlight,
		diagnosticsPerRun:  diagnosticsPerRun,
		schedulesTotal:     schedulesTotal,
		openDocuments:      openDocuments,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StartConversion() {
	m.conversionInFlight.Inc()
}

func (m *Metrics) FinishConversion(outcome string, duration time.Duration, diagnostics int) {
	m.conversionInFlight.Dec()
	m.conversionsTotal.WithLabelValues(outcome).Inc()
	m.conversionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.diagnosticsPerRun.Observe(float64(diagnostics))
}

func (m *Metrics) Scheduled(disposition string) {
	m.schedulesTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) SetOpenDocuments(n int) {
	m.openDocuments.Set(float64(n))
}
