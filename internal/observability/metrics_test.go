package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/observability/metrics"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Capture.IncrementFfmpegRestarts("lobby")
	m.Capture.ObserveReadGap("lobby", 15.2)
	m.Capture.SetStreamsActive(1)
	m.Capture.AddBytesReceived("lobby", 32768)
	m.Capture.AddBytesDropped("lobby", 4096)
	m.Capture.IncrementWindowsEmitted("lobby")
	m.Capture.IncrementWindowsSkipped("lobby", metrics.ReasonInsufficientAudio)
	m.Recognizer.IncrementRecognitions("shazam", "lobby", metrics.StatusSuccess)
	m.Recognizer.IncrementRecognitionFailure("shazam", "lobby", "timeout")
	m.Recognizer.ObserveLatency("shazam", 0.42)
	m.Recognizer.ObserveWindowToRecognized(1.5)
	m.Datastore.IncrementPlaysInserted("lobby", "shazam")
	m.Datastore.IncrementPlaysDeduplicated("lobby")
	m.Datastore.AddRetentionDeletes(metrics.TableRecognitions, 12)
	m.Datastore.SetRetentionLastRun(1700000000)
	m.Datastore.IncrementWriteRetries("insert_play")
	m.Monitor.SetPendingConfirmations("lobby", 2)
	m.Monitor.SetProcessCPUPercent(3.5)
	m.MQTT.UpdateConnectionStatus(true)
	m.MQTT.IncrementMessagesDelivered()
	m.MQTT.IncrementMessagesDropped()

	families, err := m.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}

	expected := []string{
		"ffmpeg_restarts_total",
		"ffmpeg_read_gap_seconds",
		"streams_active",
		"capture_bytes_total",
		"capture_bytes_dropped_total",
		"windows_emitted_total",
		"windows_skipped_total",
		"recognitions_total",
		"recognitions_failure_total",
		"recognizer_latency_seconds",
		"window_to_recognized_seconds",
		"plays_inserted_total",
		"plays_deduplicated_total",
		"retention_deletes_total",
		"retention_last_run_timestamp",
		"datastore_write_retries_total",
		"pending_confirmations",
		"process_cpu_percent",
		"mqtt_connection_status",
		"mqtt_messages_delivered_total",
		"mqtt_messages_dropped_total",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected metric %q to be registered", name)
	}
}

func TestRecognizerInflightTracksGlobalGauge(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Recognizer.IncrementInflight("shazam")
	m.Recognizer.IncrementInflight("acoustid")

	expected := `
# HELP recognitions_inflight_global Recognition requests currently in flight across all providers
# TYPE recognitions_inflight_global gauge
recognitions_inflight_global 2
`
	require.NoError(t, testutil.GatherAndCompare(m.registry,
		strings.NewReader(expected), "recognitions_inflight_global"))

	m.Recognizer.DecrementInflight("shazam")

	expected = `
# HELP recognitions_inflight_global Recognition requests currently in flight across all providers
# TYPE recognitions_inflight_global gauge
recognitions_inflight_global 1
`
	require.NoError(t, testutil.GatherAndCompare(m.registry,
		strings.NewReader(expected), "recognitions_inflight_global"))
}

func TestCaptureMetricsSkipsDroppedBytesAtZero(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Capture.AddBytesDropped("lobby", 0)

	count, err := testutil.GatherAndCount(m.registry, "capture_bytes_dropped_total")
	require.NoError(t, err)
	assert.Zero(t, count, "zero-byte drops should not create a series")
}
