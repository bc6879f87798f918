// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Recognition status label values for recognitions_total.
const (
	// StatusSuccess marks a recognition that returned a positive identification.
	StatusSuccess = "success"
	// StatusNoMatch marks a recognition where the provider found no track.
	StatusNoMatch = "nomatch"
	// StatusError marks a recognition that failed.
	StatusError = "error"
	// StatusSkipped marks a window that was never submitted to the provider.
	StatusSkipped = "skipped"
)

// Window skip reason label values for windows_skipped_total.
const (
	// ReasonInsufficientAudio marks windows dropped because the capture buffer
	// did not hold a full window, typically after a stream restart.
	ReasonInsufficientAudio = "insufficient_audio"
	// ReasonLate marks windows dropped because they could not be cut within
	// half a hop of their end time.
	ReasonLate = "late"
	// ReasonInflightFull marks windows dropped because the recognition queue
	// was still busy with an earlier window.
	ReasonInflightFull = "inflight_full"
)

// Table label values for retention_deletes_total.
const (
	// TableRecognitions labels deletes from the recognitions table.
	TableRecognitions = "recognitions"
	// TablePlays labels deletes from the plays table.
	TablePlays = "plays"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~32s range).
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms.
	BucketStart100ms = 0.1
	// BucketFactor2 is the common exponential growth factor for histogram buckets.
	BucketFactor2 = 2
	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// RecognizerLatencyBuckets are the fixed buckets for recognizer_latency_seconds.
// Provider calls cluster around 0.5-5s with a long tail up to the 30s timeout.
var RecognizerLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
