// Package observability provides the Prometheus registry, the metric
// collectors used across the monitor, and the HTTP endpoint serving them.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// Metrics holds all metric collectors used by the application, registered
// on a private registry so the endpoint serves only what we define.
type Metrics struct {
	registry   *prometheus.Registry
	Capture    *metrics.CaptureMetrics
	Recognizer *metrics.RecognizerMetrics
	Datastore  *metrics.DatastoreMetrics
	Monitor    *metrics.MonitorMetrics
	MQTT       *metrics.MQTTMetrics
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	captureMetrics, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}

	recognizerMetrics, err := metrics.NewRecognizerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	monitorMetrics, err := metrics.NewMonitorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Capture:    captureMetrics,
		Recognizer: recognizerMetrics,
		Datastore:  datastoreMetrics,
		Monitor:    monitorMetrics,
		MQTT:       mqttMetrics,
	}, nil
}

// RegisterHandlers registers the metrics handler on the given mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.metricsHandler())
}

// metricsHandler returns an HTTP handler serving the private registry.
func (m *Metrics) metricsHandler() http.Handler {
	errorLog := slog.NewLogLogger(logging.ForService("metrics").Handler(), slog.LevelError)
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      errorLog,
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
