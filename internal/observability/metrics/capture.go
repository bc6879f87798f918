// Package metrics provides custom Prometheus metrics for the playwatch pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for RTSP capture and windowing.
type CaptureMetrics struct {
	registry *prometheus.Registry

	ffmpegRestartsTotal *prometheus.CounterVec
	readGapSeconds      *prometheus.HistogramVec
	streamsActive       prometheus.Gauge
	bytesReceivedTotal  *prometheus.CounterVec
	bytesDroppedTotal   *prometheus.CounterVec
	windowsEmittedTotal *prometheus.CounterVec
	windowsSkippedTotal *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewCaptureMetrics creates and registers new capture metrics.
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize capture metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register capture metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for CaptureMetrics.
func (m *CaptureMetrics) initMetrics() error {
	m.ffmpegRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffmpeg_restarts_total",
			Help: "Total number of ffmpeg process restarts per stream",
		},
		[]string{"stream"},
	)

	m.readGapSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ffmpeg_read_gap_seconds",
			Help:    "Observed gaps between ffmpeg reads that triggered a restart",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
		},
		[]string{"stream"},
	)

	m.streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streams_active",
		Help: "Number of streams currently delivering audio",
	})

	m.bytesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_bytes_total",
			Help: "Total PCM bytes received from ffmpeg per stream",
		},
		[]string{"stream"},
	)

	m.bytesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_bytes_dropped_total",
			Help: "Total PCM bytes discarded because the capture buffer was full",
		},
		[]string{"stream"},
	)

	m.windowsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windows_emitted_total",
			Help: "Total recognition windows emitted per stream",
		},
		[]string{"stream"},
	)

	m.windowsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windows_skipped_total",
			Help: "Total recognition windows skipped before submission",
		},
		[]string{"stream", "reason"},
	)

	m.collectors = []prometheus.Collector{
		m.ffmpegRestartsTotal,
		m.readGapSeconds,
		m.streamsActive,
		m.bytesReceivedTotal,
		m.bytesDroppedTotal,
		m.windowsEmittedTotal,
		m.windowsSkippedTotal,
	}

	return nil
}

// IncrementFfmpegRestarts increments the restart counter for a stream.
func (m *CaptureMetrics) IncrementFfmpegRestarts(stream string) {
	m.ffmpegRestartsTotal.WithLabelValues(stream).Inc()
}

// ObserveReadGap records the data gap that triggered a stream restart.
func (m *CaptureMetrics) ObserveReadGap(stream string, gapSeconds float64) {
	m.readGapSeconds.WithLabelValues(stream).Observe(gapSeconds)
}

// SetStreamsActive sets the number of streams currently delivering audio.
func (m *CaptureMetrics) SetStreamsActive(count int) {
	m.streamsActive.Set(float64(count))
}

// AddBytesReceived records PCM bytes received from ffmpeg.
func (m *CaptureMetrics) AddBytesReceived(stream string, n int) {
	m.bytesReceivedTotal.WithLabelValues(stream).Add(float64(n))
}

// AddBytesDropped records PCM bytes discarded by the capture buffer.
func (m *CaptureMetrics) AddBytesDropped(stream string, n int) {
	if n > 0 {
		m.bytesDroppedTotal.WithLabelValues(stream).Add(float64(n))
	}
}

// IncrementWindowsEmitted increments the emitted window counter for a stream.
func (m *CaptureMetrics) IncrementWindowsEmitted(stream string) {
	m.windowsEmittedTotal.WithLabelValues(stream).Inc()
}

// IncrementWindowsSkipped increments the skipped window counter for a stream.
func (m *CaptureMetrics) IncrementWindowsSkipped(stream, reason string) {
	m.windowsSkippedTotal.WithLabelValues(stream, reason).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}
