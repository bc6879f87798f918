package audio

import (
	"context"
	"log/slog"
	"time"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// windowPollInterval is how long the scheduler waits between buffer checks
// when a window boundary arrives before enough audio has accumulated.
const windowPollInterval = 500 * time.Millisecond

// Window is one recognition window cut from a stream. WAV holds a complete
// self-contained byte sequence covering exactly the window duration.
type Window struct {
	Stream   string
	Start    time.Time
	End      time.Time
	HopIndex int64
	WAV      []byte
}

// HopIndex returns the global ordinal of the hop containing start. Hops are
// aligned to the Unix epoch, so indices stay stable across restarts.
func HopIndex(start time.Time, hop time.Duration) int64 {
	return start.Unix() / int64(hop/time.Second)
}

// WindowScheduler cuts fixed-length windows from a capture buffer on an
// epoch-aligned hop schedule. All timing goes through the injected clock.
type WindowScheduler struct {
	stream  string
	window  time.Duration
	hop     time.Duration
	format  Format
	buffer  *CaptureBuffer
	clk     clock.Clock
	metrics *metrics.CaptureMetrics
	logger  *slog.Logger

	// lastStart is the most recent window start handled, emitted or
	// skipped. Only the Run goroutine touches it.
	lastStart time.Time
}

// NewWindowScheduler creates a scheduler cutting windows of the given
// duration every hop from buffer. The metrics collector may be nil.
func NewWindowScheduler(stream string, window, hop time.Duration, format Format,
	buffer *CaptureBuffer, clk clock.Clock, m *metrics.CaptureMetrics) *WindowScheduler {
	return &WindowScheduler{
		stream:  stream,
		window:  window,
		hop:     hop,
		format:  format,
		buffer:  buffer,
		clk:     clk,
		metrics: m,
		logger:  logging.ForService("scheduler").With("stream", stream),
	}
}

// Run emits windows until ctx is cancelled. emit must not block; slow
// consumers drop windows through their own admission control.
func (s *WindowScheduler) Run(ctx context.Context, emit func(Window)) error {
	s.logger.Info("window scheduler started",
		"window", s.window, "hop", s.hop)

	for {
		now := s.clk.Now()
		start := s.nextCaptureStart(now)
		if err := s.clk.Sleep(ctx, start.Add(s.window).Sub(now)); err != nil {
			s.logger.Info("window scheduler stopped")
			return nil
		}
		s.captureWindow(ctx, start, emit)
	}
}

// nextCaptureStart returns the start of the next window to cut, given the
// current time. A window may still be cut up to half a hop after its end;
// beyond that the scheduler moves to the next aligned boundary. Starts
// never repeat: a window already handled advances the schedule one hop.
func (s *WindowScheduler) nextCaptureStart(now time.Time) time.Time {
	hopSec := int64(s.hop / time.Second)
	aligned := now.Unix() / hopSec * hopSec
	start := time.Unix(aligned, 0).UTC()
	if now.Sub(start.Add(s.window)) >= s.hop/2 {
		start = start.Add(s.hop)
	}
	if !s.lastStart.IsZero() && !start.After(s.lastStart) {
		start = s.lastStart.Add(s.hop)
	}
	return start
}

// captureWindow reads one window of PCM ending at start+window and emits it
// as WAV. When the buffer is short it polls until the late budget runs out.
func (s *WindowScheduler) captureWindow(ctx context.Context, start time.Time, emit func(Window)) {
	s.lastStart = start
	end := start.Add(s.window)
	deadline := end.Add(s.hop / 2)
	pcm := make([]byte, s.format.Bytes(s.window))

	for {
		err := s.buffer.ReadWindow(pcm)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrInsufficientAudio) {
			s.logger.Error("window read failed", "error", err)
			s.skip(start, metrics.ReasonInsufficientAudio)
			return
		}
		if !s.clk.Now().Before(deadline) {
			s.skip(start, metrics.ReasonInsufficientAudio)
			return
		}
		if s.clk.Sleep(ctx, windowPollInterval) != nil {
			return
		}
	}

	if !s.clk.Now().Before(deadline) {
		s.skip(start, metrics.ReasonLate)
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementWindowsEmitted(s.stream)
	}
	emit(Window{
		Stream:   s.stream,
		Start:    start,
		End:      end,
		HopIndex: HopIndex(start, s.hop),
		WAV:      EncodeWAV(s.format, pcm),
	})
}

func (s *WindowScheduler) skip(start time.Time, reason string) {
	if s.metrics != nil {
		s.metrics.IncrementWindowsSkipped(s.stream, reason)
	}
	s.logger.Debug("window skipped", "window_start", start, "reason", reason)
}
