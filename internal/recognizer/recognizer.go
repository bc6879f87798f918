// Package recognizer submits recognition windows to music identification
// providers and normalizes every answer, positive or not, into a single
// Outcome type the rest of the pipeline can reason about.
package recognizer

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/playwatch/playwatch/internal/errors"
)

// Canonical provider names. Configuration and the play confirmation policy
// refer to providers by these strings.
const (
	ProviderShazam   = "shazam"
	ProviderAcoustID = "acoustid"
)

// Status classifies the outcome of one provider call.
type Status int

const (
	// StatusMatch means the provider identified a track.
	StatusMatch Status = iota
	// StatusNoMatch means the provider answered but recognized nothing.
	StatusNoMatch
	// StatusError means the call failed; ErrorKind says how.
	StatusError
	// StatusSkipped means the call was never made because the in-flight
	// limits were exhausted.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusMatch:
		return "match"
	case StatusNoMatch:
		return "nomatch"
	case StatusError:
		return "error"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ErrorKind classifies failed provider calls for metrics and logs.
type ErrorKind int

const (
	ErrorInvalidAudio ErrorKind = iota
	ErrorTimeout
	ErrorTransport
	ErrorRateLimited
	ErrorProvider
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorInvalidAudio:
		return "invalid_audio"
	case ErrorTimeout:
		return "timeout"
	case ErrorTransport:
		return "transport"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorProvider:
		return "provider_error"
	case ErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Match is a positive identification. Provider and ProviderTrackID together
// name the track; the remaining fields are best-effort metadata.
type Match struct {
	Provider        string
	ProviderTrackID string
	Title           string
	Artist          string
	Album           string
	ISRC            string
	ArtworkURL      string
	Confidence      float64
}

// Outcome is the normalized result of one provider call for one window.
// Exactly one of Match and Err is meaningful, selected by Status.
type Outcome struct {
	Provider string
	Status   Status

	// Match is set when Status is StatusMatch.
	Match *Match

	// ErrorKind and Err are set when Status is StatusError.
	ErrorKind ErrorKind
	Err       error

	// Raw is the provider response body, kept verbatim for storage.
	Raw json.RawMessage

	// Latency is the provider round-trip, zero for skipped calls.
	Latency time.Duration
}

// Recognizer identifies music in a WAV window.
type Recognizer interface {
	// Name returns the stable provider identifier.
	Name() string

	// Recognize submits wav to the provider. The call respects ctx for
	// cancellation and deadlines. Failures are reported in the outcome,
	// never by panicking; the outcome always carries Provider and, for
	// calls that went out, Latency.
	Recognize(ctx context.Context, wav []byte) Outcome
}

func matchOutcome(m Match, latency time.Duration, raw []byte) Outcome {
	return Outcome{
		Provider: m.Provider,
		Status:   StatusMatch,
		Match:    &m,
		Raw:      json.RawMessage(raw),
		Latency:  latency,
	}
}

func noMatchOutcome(provider string, latency time.Duration, raw []byte) Outcome {
	return Outcome{
		Provider: provider,
		Status:   StatusNoMatch,
		Raw:      json.RawMessage(raw),
		Latency:  latency,
	}
}

func errorOutcome(provider string, kind ErrorKind, err error, latency time.Duration) Outcome {
	return Outcome{
		Provider:  provider,
		Status:    StatusError,
		ErrorKind: kind,
		Err:       err,
		Latency:   latency,
	}
}

func skippedOutcome(provider string) Outcome {
	return Outcome{Provider: provider, Status: StatusSkipped}
}

// classifyCallError maps transport-level failures onto an ErrorKind.
func classifyCallError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorInternal
	}
	return ErrorTransport
}
