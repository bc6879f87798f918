package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RecognizerMetrics contains Prometheus metrics for recognition providers.
type RecognizerMetrics struct {
	registry *prometheus.Registry

	recognitionsTotal        *prometheus.CounterVec
	recognitionFailuresTotal *prometheus.CounterVec
	latencySeconds           *prometheus.HistogramVec
	inflightPerProvider      *prometheus.GaugeVec
	inflightGlobal           prometheus.Gauge
	windowToRecognized       prometheus.Histogram

	collectors []prometheus.Collector
}

// NewRecognizerMetrics creates and registers new recognizer metrics.
func NewRecognizerMetrics(registry *prometheus.Registry) (*RecognizerMetrics, error) {
	m := &RecognizerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize recognizer metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register recognizer metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for RecognizerMetrics.
func (m *RecognizerMetrics) initMetrics() error {
	m.recognitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recognitions_total",
			Help: "Total recognition attempts by provider, stream and outcome status",
		},
		[]string{"provider", "stream", "status"},
	)

	m.recognitionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recognitions_failure_total",
			Help: "Total failed recognition attempts by provider, stream and error type",
		},
		[]string{"provider", "stream", "error_type"},
	)

	m.latencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recognizer_latency_seconds",
			Help:    "Provider round-trip latency in seconds",
			Buckets: RecognizerLatencyBuckets,
		},
		[]string{"provider"},
	)

	m.inflightPerProvider = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recognitions_inflight",
			Help: "Recognition requests currently in flight per provider",
		},
		[]string{"provider"},
	)

	m.inflightGlobal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recognitions_inflight_global",
		Help: "Recognition requests currently in flight across all providers",
	})

	m.windowToRecognized = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "window_to_recognized_seconds",
		Help:    "Delay between window end and positive recognition",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
	})

	m.collectors = []prometheus.Collector{
		m.recognitionsTotal,
		m.recognitionFailuresTotal,
		m.latencySeconds,
		m.inflightPerProvider,
		m.inflightGlobal,
		m.windowToRecognized,
	}

	return nil
}

// IncrementRecognitions increments the recognition counter for an outcome.
func (m *RecognizerMetrics) IncrementRecognitions(provider, stream, status string) {
	m.recognitionsTotal.WithLabelValues(provider, stream, status).Inc()
}

// IncrementRecognitionFailure increments the failure counter for an error type.
func (m *RecognizerMetrics) IncrementRecognitionFailure(provider, stream, errorType string) {
	m.recognitionFailuresTotal.WithLabelValues(provider, stream, errorType).Inc()
}

// ObserveLatency records a provider round-trip latency.
func (m *RecognizerMetrics) ObserveLatency(provider string, seconds float64) {
	m.latencySeconds.WithLabelValues(provider).Observe(seconds)
}

// IncrementInflight marks a recognition request as started.
func (m *RecognizerMetrics) IncrementInflight(provider string) {
	m.inflightPerProvider.WithLabelValues(provider).Inc()
	m.inflightGlobal.Inc()
}

// DecrementInflight marks a recognition request as finished.
func (m *RecognizerMetrics) DecrementInflight(provider string) {
	m.inflightPerProvider.WithLabelValues(provider).Dec()
	m.inflightGlobal.Dec()
}

// ObserveWindowToRecognized records the delay from window end to recognition.
func (m *RecognizerMetrics) ObserveWindowToRecognized(seconds float64) {
	if seconds >= 0 {
		m.windowToRecognized.Observe(seconds)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *RecognizerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *RecognizerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}
