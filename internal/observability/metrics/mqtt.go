package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for MQTT play publishing.
type MQTTMetrics struct {
	registry *prometheus.Registry

	connectionStatus       prometheus.Gauge
	messagesDeliveredTotal prometheus.Counter
	messagesDroppedTotal   prometheus.Counter
	errorsTotal            *prometheus.CounterVec
	reconnectAttemptsTotal prometheus.Counter
	publishLatency         prometheus.Histogram

	collectors []prometheus.Collector
}

// NewMQTTMetrics creates and registers new MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MQTTMetrics.
func (m *MQTTMetrics) initMetrics() error {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 = connected, 0 = disconnected)",
	})

	m.messagesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total play messages delivered to the MQTT broker",
	})

	m.messagesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_dropped_total",
		Help: "Total play messages dropped because the publish queue was full",
	})

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_errors_total",
			Help: "Total MQTT errors by type",
		},
		[]string{"error_type"},
	)

	m.reconnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total MQTT reconnection attempts",
	})

	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "MQTT publish latency in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.collectors = []prometheus.Collector{
		m.connectionStatus,
		m.messagesDeliveredTotal,
		m.messagesDroppedTotal,
		m.errorsTotal,
		m.reconnectAttemptsTotal,
		m.publishLatency,
	}

	return nil
}

// UpdateConnectionStatus updates the MQTT connection status gauge.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// IncrementMessagesDelivered increments the delivered message counter.
func (m *MQTTMetrics) IncrementMessagesDelivered() {
	m.messagesDeliveredTotal.Inc()
}

// IncrementMessagesDropped increments the dropped message counter.
func (m *MQTTMetrics) IncrementMessagesDropped() {
	m.messagesDroppedTotal.Inc()
}

// IncrementErrors increments the error counter for an error type.
func (m *MQTTMetrics) IncrementErrors(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// IncrementReconnectAttempts increments the reconnection attempt counter.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.reconnectAttemptsTotal.Inc()
}

// ObservePublishLatency records an MQTT publish latency.
func (m *MQTTMetrics) ObservePublishLatency(seconds float64) {
	m.publishLatency.Observe(seconds)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}
