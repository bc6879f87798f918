package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for datastore operations.
type DatastoreMetrics struct {
	registry *prometheus.Registry

	playsInsertedTotal      *prometheus.CounterVec
	playsDeduplicatedTotal  *prometheus.CounterVec
	retentionDeletesTotal   *prometheus.CounterVec
	retentionLastRun        prometheus.Gauge
	writeRetriesTotal       *prometheus.CounterVec
	operationDurationsHist  *prometheus.HistogramVec
	operationErrorsTotal    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewDatastoreMetrics creates and registers new datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize datastore metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for DatastoreMetrics.
func (m *DatastoreMetrics) initMetrics() error {
	m.playsInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plays_inserted_total",
			Help: "Total confirmed plays inserted by stream and provider",
		},
		[]string{"stream", "provider"},
	)

	m.playsDeduplicatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plays_deduplicated_total",
			Help: "Total plays suppressed by the deduplication window",
		},
		[]string{"stream"},
	)

	m.retentionDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deletes_total",
			Help: "Total rows removed by retention cleanup per table",
		},
		[]string{"table"},
	)

	m.retentionLastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "retention_last_run_timestamp",
		Help: "Unix timestamp of the last completed retention cleanup",
	})

	m.writeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_write_retries_total",
			Help: "Total datastore write retries by operation",
		},
		[]string{"operation"},
	)

	m.operationDurationsHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Duration of datastore operations in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"operation"},
	)

	m.operationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operation_errors_total",
			Help: "Total datastore operation errors by operation",
		},
		[]string{"operation"},
	)

	m.collectors = []prometheus.Collector{
		m.playsInsertedTotal,
		m.playsDeduplicatedTotal,
		m.retentionDeletesTotal,
		m.retentionLastRun,
		m.writeRetriesTotal,
		m.operationDurationsHist,
		m.operationErrorsTotal,
	}

	return nil
}

// IncrementPlaysInserted increments the inserted play counter.
func (m *DatastoreMetrics) IncrementPlaysInserted(stream, provider string) {
	m.playsInsertedTotal.WithLabelValues(stream, provider).Inc()
}

// IncrementPlaysDeduplicated increments the deduplicated play counter.
func (m *DatastoreMetrics) IncrementPlaysDeduplicated(stream string) {
	m.playsDeduplicatedTotal.WithLabelValues(stream).Inc()
}

// AddRetentionDeletes records rows removed by retention cleanup.
func (m *DatastoreMetrics) AddRetentionDeletes(table string, rows int64) {
	if rows > 0 {
		m.retentionDeletesTotal.WithLabelValues(table).Add(float64(rows))
	}
}

// SetRetentionLastRun records the completion time of a retention cleanup.
func (m *DatastoreMetrics) SetRetentionLastRun(unixSeconds int64) {
	m.retentionLastRun.Set(float64(unixSeconds))
}

// IncrementWriteRetries increments the write retry counter for an operation.
func (m *DatastoreMetrics) IncrementWriteRetries(operation string) {
	m.writeRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveOperationDuration records the duration of a datastore operation.
func (m *DatastoreMetrics) ObserveOperationDuration(operation string, seconds float64) {
	m.operationDurationsHist.WithLabelValues(operation).Observe(seconds)
}

// IncrementOperationErrors increments the error counter for an operation.
func (m *DatastoreMetrics) IncrementOperationErrors(operation string) {
	m.operationErrorsTotal.WithLabelValues(operation).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}
