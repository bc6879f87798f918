package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MonitorMetrics contains Prometheus metrics for the monitor process itself.
type MonitorMetrics struct {
	registry *prometheus.Registry

	pendingConfirmations *prometheus.GaugeVec
	processCPUPercent    prometheus.Gauge
	processMemoryRSS     prometheus.Gauge
	goroutines           prometheus.Gauge

	collectors []prometheus.Collector
}

// NewMonitorMetrics creates and registers new monitor metrics.
func NewMonitorMetrics(registry *prometheus.Registry) (*MonitorMetrics, error) {
	m := &MonitorMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize monitor metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register monitor metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MonitorMetrics.
func (m *MonitorMetrics) initMetrics() error {
	m.pendingConfirmations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pending_confirmations",
			Help: "Single-hit candidates currently awaiting confirmation per stream",
		},
		[]string{"stream"},
	)

	m.processCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_cpu_percent",
		Help: "CPU usage of the monitor process in percent",
	})

	m.processMemoryRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_memory_rss_bytes",
		Help: "Resident memory of the monitor process in bytes",
	})

	m.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_goroutines",
		Help: "Number of goroutines in the monitor process",
	})

	m.collectors = []prometheus.Collector{
		m.pendingConfirmations,
		m.processCPUPercent,
		m.processMemoryRSS,
		m.goroutines,
	}

	return nil
}

// SetPendingConfirmations sets the pending confirmation count for a stream.
func (m *MonitorMetrics) SetPendingConfirmations(stream string, count int) {
	m.pendingConfirmations.WithLabelValues(stream).Set(float64(count))
}

// SetProcessCPUPercent sets the process CPU usage gauge.
func (m *MonitorMetrics) SetProcessCPUPercent(percent float64) {
	m.processCPUPercent.Set(percent)
}

// SetProcessMemoryRSS sets the process resident memory gauge.
func (m *MonitorMetrics) SetProcessMemoryRSS(bytes uint64) {
	m.processMemoryRSS.Set(float64(bytes))
}

// SetGoroutines sets the goroutine count gauge.
func (m *MonitorMetrics) SetGoroutines(count int) {
	m.goroutines.Set(float64(count))
}

// Collect implements the prometheus.Collector interface.
func (m *MonitorMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MonitorMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}
