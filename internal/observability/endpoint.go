package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	stderrors "errors"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// HealthStatus is the payload served on the health endpoint.
type HealthStatus struct {
	Status        string `json:"status"`
	ActiveStreams int    `json:"active_streams"`
}

// StatusFunc reports the current health of the monitor. It is called on
// every health request and must be safe for concurrent use.
type StatusFunc func() HealthStatus

// Endpoint represents the telemetry HTTP endpoint serving metrics and health.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	status        StatusFunc
}

// NewEndpoint creates a new telemetry endpoint from the settings. It returns
// an error when telemetry is disabled so callers cannot start one by accident.
func NewEndpoint(settings *conf.Settings, m *Metrics, status StatusFunc) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, errors.Newf("telemetry endpoint is disabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if status == nil {
		status = func() HealthStatus { return HealthStatus{Status: "ok"} }
	}
	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       m,
		status:        status,
	}, nil
}

// Start starts the telemetry HTTP server and a goroutine that shuts it down
// when quitChan closes.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	logger := logging.ForService("observability")

	e.server = &http.Server{
		Addr:    e.listenAddress,
		Handler: e.handler(),
	}

	wg.Go(func() {
		logger.Info("starting telemetry endpoint", "address", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("telemetry endpoint failed", "error", err)
		}
	})

	go e.gracefulShutdown(quitChan, logger)
}

// handler builds the mux serving the metrics and health endpoints.
func (e *Endpoint) handler() http.Handler {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	mux.Handle("/healthz", e.healthzHandler())
	return mux
}

// healthzHandler serves a JSON health summary.
func (e *Endpoint) healthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(e.status()); err != nil {
			http.Error(w, "failed to encode health status", http.StatusInternalServerError)
		}
	})
}

// gracefulShutdown waits for the quit signal and shuts down the server.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}, logger *slog.Logger) {
	<-quitChan

	ctx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down telemetry endpoint")
	if err := e.server.Shutdown(ctx); err != nil {
		logger.Error("telemetry endpoint shutdown failed", "error", err)
	}
}
