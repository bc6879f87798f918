// Package decision implements the two-hit play confirmation policy: a track
// counts as a play only when the designated confirming provider identifies
// the same track twice within a bounded number of hops.
package decision

import (
	"log/slog"
	"sync"
	"time"

	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
	"github.com/playwatch/playwatch/internal/recognizer"
)

// Confirmation is a confirmed play candidate, ready for idempotent insertion.
type Confirmation struct {
	Stream string

	// Match carries the later hit's metadata.
	Match recognizer.Match

	// Confidence is the higher of the two hits.
	Confidence float64

	// RecognizedAt is the later hit's recognition time, the end of the
	// window that produced the confirming hit.
	RecognizedAt time.Time
}

type pendingHit struct {
	match        recognizer.Match
	hopIndex     int64
	confidence   float64
	recognizedAt time.Time
}

// Aggregator holds at most one pending single-hit candidate per stream for
// the confirming provider. Outcomes from other providers are ignored; they
// are recorded as recognitions elsewhere but never drive plays.
type Aggregator struct {
	confirmingProvider string
	tolerance          int64
	metrics            *metrics.MonitorMetrics
	logger             *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingHit
}

// NewAggregator creates the confirmation state machine. tolerance is the
// number of gap hops permitted between the two hits; negative values are
// treated as zero. A nil metrics receiver disables gauge updates.
func NewAggregator(confirmingProvider string, tolerance int, m *metrics.MonitorMetrics) *Aggregator {
	return &Aggregator{
		confirmingProvider: confirmingProvider,
		tolerance:          int64(max(tolerance, 0)),
		metrics:            m,
		logger:             logging.ForService("decision"),
		pending:            make(map[string]*pendingHit),
	}
}

// Observe feeds one recognition outcome into the state machine. hopIndex is
// the hop the window started on and recognizedAt the window's end time. The
// returned confirmation is valid only when ok is true.
//
// A positive match seeds the pending slot, confirms it when the identity
// repeats within 1+tolerance hops, or replaces it when a different track
// shows up. Non-positive outcomes leave the pending hit in place until it
// can no longer be confirmed by any future hop, at which point it is
// dropped.
func (a *Aggregator) Observe(stream string, hopIndex int64, recognizedAt time.Time, out recognizer.Outcome) (Confirmation, bool) {
	if out.Provider != a.confirmingProvider {
		return Confirmation{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pending := a.pending[stream]

	if out.Status != recognizer.StatusMatch || out.Match == nil {
		// The earliest possible confirming hit is the next hop; once even
		// that would overshoot the tolerance the candidate is dead.
		if pending != nil && hopIndex-pending.hopIndex > a.tolerance {
			delete(a.pending, stream)
			a.logger.Debug("pending candidate expired",
				"stream", stream,
				"track", pending.match.ProviderTrackID,
				"first_hop", pending.hopIndex,
				"hop", hopIndex)
			a.updateGauge(stream)
		}
		return Confirmation{}, false
	}

	match := *out.Match

	if pending != nil && hopIndex-pending.hopIndex > 1+a.tolerance {
		pending = nil
		delete(a.pending, stream)
	}

	if pending == nil {
		a.pending[stream] = &pendingHit{
			match:        match,
			hopIndex:     hopIndex,
			confidence:   match.Confidence,
			recognizedAt: recognizedAt,
		}
		a.updateGauge(stream)
		return Confirmation{}, false
	}

	gap := hopIndex - pending.hopIndex
	sameIdentity := pending.match.Provider == match.Provider &&
		pending.match.ProviderTrackID == match.ProviderTrackID

	if sameIdentity && gap < 1 {
		// Duplicate delivery of the same hop proves nothing new.
		return Confirmation{}, false
	}

	if sameIdentity {
		delete(a.pending, stream)
		a.updateGauge(stream)
		a.logger.Info("play confirmed",
			"stream", stream,
			"track", match.ProviderTrackID,
			"title", match.Title,
			"artist", match.Artist,
			"gap_hops", gap)
		return Confirmation{
			Stream:       stream,
			Match:        match,
			Confidence:   max(pending.confidence, match.Confidence),
			RecognizedAt: recognizedAt,
		}, true
	}

	// Different track now playing; it becomes the new candidate.
	a.pending[stream] = &pendingHit{
		match:        match,
		hopIndex:     hopIndex,
		confidence:   match.Confidence,
		recognizedAt: recognizedAt,
	}
	a.updateGauge(stream)
	return Confirmation{}, false
}

// PendingCount reports pending candidates, for one stream or all of them
// when stream is empty.
func (a *Aggregator) PendingCount(stream string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if stream == "" {
		return len(a.pending)
	}
	if _, ok := a.pending[stream]; ok {
		return 1
	}
	return 0
}

// RemoveStream drops state for a stream that left the configuration.
func (a *Aggregator) RemoveStream(stream string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.pending, stream)
	a.updateGauge(stream)
}

// ConfirmingProvider returns the provider whose hits drive plays.
func (a *Aggregator) ConfirmingProvider() string {
	return a.confirmingProvider
}

// updateGauge is called with the mutex held.
func (a *Aggregator) updateGauge(stream string) {
	if a.metrics == nil {
		return
	}
	count := 0
	if _, ok := a.pending[stream]; ok {
		count = 1
	}
	a.metrics.SetPendingConfirmations(stream, count)
}
