package observability

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/conf"
)

func telemetrySettings(enabled bool) *conf.Settings {
	return &conf.Settings{
		Telemetry: conf.TelemetrySettings{
			Enabled: enabled,
			Listen:  "127.0.0.1:0",
		},
	}
}

func TestNewEndpointRequiresTelemetryEnabled(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(telemetrySettings(false), m, nil)
	assert.Error(t, err)
}

func TestEndpointServesMetricsAndHealth(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	endpoint, err := NewEndpoint(telemetrySettings(true), m, func() HealthStatus {
		return HealthStatus{Status: "ok", ActiveStreams: 2}
	})
	require.NoError(t, err)

	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 2, status.ActiveStreams)

	m.Capture.IncrementFfmpegRestarts("lobby")

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()

	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ffmpeg_restarts_total{stream="lobby"} 1`)
}

func TestEndpointDefaultStatusFunc(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	endpoint, err := NewEndpoint(telemetrySettings(true), m, nil)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	endpoint.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	var status HealthStatus
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Zero(t, status.ActiveStreams)
}

func TestEndpointGracefulShutdown(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	endpoint, err := NewEndpoint(telemetrySettings(true), m, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	endpoint.Start(&wg, quitChan)

	close(quitChan)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after quit signal")
	}
}
