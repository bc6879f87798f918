// Package monitor glues the pipeline together: one worker per stream runs
// capture, windowing, recognition and play confirmation; the manager owns
// the worker set and the periodic jobs around them.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/playwatch/playwatch/internal/audio"
	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/datastore"
	"github.com/playwatch/playwatch/internal/decision"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/mqtt"
	"github.com/playwatch/playwatch/internal/observability"
	"github.com/playwatch/playwatch/internal/observability/metrics"
	"github.com/playwatch/playwatch/internal/recognizer"
)

// sourceFailureCooldown is how long a worker waits after its audio source
// exhausts the restart budget before building a fresh one.
const sourceFailureCooldown = 5 * time.Minute

// WorkerState tracks the lifecycle of one stream worker.
type WorkerState int

const (
	WorkerStarting WorkerState = iota
	WorkerRunning
	WorkerRestarting
	WorkerStopping
	WorkerStopped
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerRestarting:
		return "restarting"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	case WorkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlayPublisher receives every newly inserted play. mqtt.Notifier satisfies
// it; a nil publisher disables notifications.
type PlayPublisher interface {
	Notify(event mqtt.PlayEvent)
}

// StreamWorker runs the full pipeline for one stream: it owns its audio
// source, capture buffer, window scheduler and the stream's slice of the
// aggregator state. The fan-out, store and aggregator are shared.
type StreamWorker struct {
	slot     conf.StreamSlot
	streamID uint
	settings *conf.Settings

	store      datastore.Interface
	fanout     *recognizer.FanOut
	aggregator *decision.Aggregator
	publisher  PlayPublisher
	clk        clock.Clock
	metrics    *observability.Metrics
	playCache  *gocache.Cache
	logger     *slog.Logger

	stateMu sync.RWMutex
	state   WorkerState

	// windows is the hand-off between the scheduler and the processing
	// loop. Capacity one: a window that cannot be accepted while the
	// previous one is still being processed is dropped, never queued.
	windows chan audio.Window

	// runSource decodes the stream into the capture buffer for one cycle.
	// The default supervises ffmpeg; tests script it.
	runSource func(ctx context.Context, buffer *audio.CaptureBuffer) error
}

// NewStreamWorker builds a worker for one enabled stream slot. streamID is
// the stream's row id from the store.
func NewStreamWorker(settings *conf.Settings, slot conf.StreamSlot, streamID uint,
	store datastore.Interface, fanout *recognizer.FanOut, aggregator *decision.Aggregator,
	publisher PlayPublisher, clk clock.Clock, m *observability.Metrics) *StreamWorker {

	dedup := time.Duration(settings.Decision.DedupSeconds) * time.Second
	w := &StreamWorker{
		slot:       slot,
		streamID:   streamID,
		settings:   settings,
		store:      store,
		fanout:     fanout,
		aggregator: aggregator,
		publisher:  publisher,
		clk:        clk,
		metrics:    m,
		playCache:  gocache.New(dedup, 2*dedup),
		logger:     logging.ForService("monitor").With("stream", slot.Name),
		state:      WorkerStarting,
		windows:    make(chan audio.Window, 1),
	}
	w.runSource = w.runFFmpegSource
	return w
}

// Name returns the stream name the worker serves.
func (w *StreamWorker) Name() string { return w.slot.Name }

// URL returns the RTSP URL the worker captures.
func (w *StreamWorker) URL() string { return w.slot.URL }

// State returns the current lifecycle state.
func (w *StreamWorker) State() WorkerState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *StreamWorker) setState(s WorkerState) {
	w.stateMu.Lock()
	if w.state != s {
		w.logger.Debug("worker state changed", "from", w.state.String(), "to", s.String())
		w.state = s
	}
	w.stateMu.Unlock()
}

// Run drives the worker until ctx is cancelled. A fatal source failure
// parks the worker for a cooldown and then rebuilds the capture side from
// scratch; hop alignment is epoch-based so windows stay on schedule.
//
// Cancellation stops the capture side only. The processing loop runs on
// its own context so an in-flight recognition can finish and persist its
// outcome; Run returns once the loop has drained or the drain deadline
// forces it down.
func (w *StreamWorker) Run(ctx context.Context) {
	defer w.setState(WorkerStopped)
	defer w.aggregator.RemoveStream(w.slot.Name)

	procCtx, abortProcessing := context.WithCancel(context.Background())
	defer abortProcessing()
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		w.processWindows(procCtx)
	}()

	for ctx.Err() == nil {
		w.setState(WorkerRunning)
		err := w.runCaptureCycle(ctx)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			w.setState(WorkerFailed)
			w.logger.Error("stream capture failed, cooling down",
				"error", err, "cooldown", sourceFailureCooldown)
			if w.clk.Sleep(ctx, sourceFailureCooldown) != nil {
				break
			}
			w.setState(WorkerRestarting)
		}
	}
	w.setState(WorkerStopping)

	// Capture is down, so no further windows can arrive; closing the
	// channel tells the processing loop to exit after the window it may
	// still be working on.
	close(w.windows)
	drainTimer := time.NewTimer(shutdownDrainDeadline)
	defer drainTimer.Stop()
	select {
	case <-procDone:
	case <-drainTimer.C:
		w.logger.Warn("drain deadline passed, aborting in-flight recognition")
		abortProcessing()
		<-procDone
	}
}

// runCaptureCycle builds a fresh buffer, source and scheduler and runs them
// until the source gives up or ctx ends. The buffer is recreated each cycle
// so stale audio from a dead decoder can never leak into a window.
func (w *StreamWorker) runCaptureCycle(ctx context.Context) error {
	format := audio.Format{
		SampleRate: w.settings.Audio.SampleRate,
		Channels:   w.settings.Audio.Channels,
	}
	buffer := audio.NewCaptureBuffer(format.Bytes(w.settings.Window.Window() + w.settings.Window.Hop()))
	scheduler := audio.NewWindowScheduler(w.slot.Name,
		w.settings.Window.Window(), w.settings.Window.Hop(),
		format, buffer, w.clk, w.captureMetrics())

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = scheduler.Run(cycleCtx, w.emitWindow)
	}()

	err := w.runSource(cycleCtx, buffer)

	cancel()
	<-schedulerDone
	return err
}

// runFFmpegSource supervises one ffmpeg process decoding into the buffer.
func (w *StreamWorker) runFFmpegSource(ctx context.Context, buffer *audio.CaptureBuffer) error {
	source := audio.NewFFmpegSource(audio.SourceConfigFromSettings(w.settings, w.slot), buffer, w.captureMetrics())
	return source.Run(ctx)
}

// emitWindow hands a window to the processing loop without blocking the
// scheduler. A full hand-off means recognition is still busy with the
// previous window; the new one is dropped.
func (w *StreamWorker) emitWindow(window audio.Window) {
	select {
	case w.windows <- window:
	default:
		w.logger.Warn("recognition busy, dropping window",
			"window_start", window.Start)
		if w.metrics != nil {
			w.metrics.Capture.IncrementWindowsSkipped(w.slot.Name, metrics.ReasonInflightFull)
		}
	}
}

// processWindows consumes windows in hop order. It exits when the channel
// closes after the last accepted window is fully handled, or immediately
// when ctx aborts the drain.
func (w *StreamWorker) processWindows(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case window, ok := <-w.windows:
			if !ok {
				return
			}
			w.handleWindow(ctx, window)
		}
	}
}

// handleWindow fans the window out to every provider, records the
// non-skipped outcomes, feeds the confirming provider's outcome into the
// aggregator and persists any confirmed play.
func (w *StreamWorker) handleWindow(ctx context.Context, window audio.Window) {
	windowID := newWindowID()
	w.logger.Debug("processing window",
		"window_id", windowID,
		"window_start", window.Start, "hop_index", window.HopIndex)

	outcomes := w.fanout.Recognize(ctx, window)

	for i := range outcomes {
		out := &outcomes[i]
		if out.Status == recognizer.StatusSkipped {
			continue
		}
		trackID := w.recordRecognition(window, out, windowID)

		confirmation, confirmed := w.aggregator.Observe(w.slot.Name, window.HopIndex, window.End, *out)
		if confirmed {
			w.recordPlay(confirmation, trackID, windowID)
		}
	}

	if w.metrics != nil {
		w.metrics.Recognizer.ObserveWindowToRecognized(w.clk.Now().Sub(window.End).Seconds())
	}
}

// recordRecognition upserts the track for a positive match and appends the
// recognition row. It returns the track id, zero when there is none.
func (w *StreamWorker) recordRecognition(window audio.Window, out *recognizer.Outcome, windowID string) uint {
	rec := &datastore.Recognition{
		StreamID:     w.streamID,
		Provider:     out.Provider,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		RecognizedAt: window.End,
		LatencyMs:    out.Latency.Milliseconds(),
	}
	if len(out.Raw) > 0 {
		rec.RawResponse = string(out.Raw)
	}

	var trackID uint
	switch out.Status {
	case recognizer.StatusMatch:
		match := out.Match
		id, err := w.store.UpsertTrack(match.Provider, match.ProviderTrackID, datastore.TrackAttrs{
			Title:      match.Title,
			Artist:     match.Artist,
			Album:      match.Album,
			ISRC:       match.ISRC,
			ArtworkURL: match.ArtworkURL,
			Metadata:   trackMetadata(out.Raw),
		})
		if err != nil {
			w.logger.Error("track upsert failed",
				"window_id", windowID, "provider", match.Provider, "error", err)
		} else {
			trackID = id
			rec.TrackID = &id
			confidence := match.Confidence
			rec.Confidence = &confidence
		}
	case recognizer.StatusError:
		rec.ErrorMessage = out.Err.Error()
	}

	if err := w.store.InsertRecognition(rec); err != nil {
		w.logger.Error("recognition insert failed",
			"window_id", windowID, "provider", out.Provider, "error", err)
	}
	return trackID
}

// recordPlay persists one confirmed play idempotently and publishes it when
// it was actually inserted. The cache in front of the unique index saves a
// write for confirmations landing in an already-occupied bucket.
func (w *StreamWorker) recordPlay(c decision.Confirmation, trackID uint, windowID string) {
	if trackID == 0 {
		// The confirming hit failed to upsert its track; without a track
		// row there is nothing to reference.
		w.logger.Warn("confirmed play has no track row, skipping", "window_id", windowID)
		return
	}

	bucket := c.RecognizedAt.UTC().Unix() / int64(w.settings.Decision.DedupSeconds)
	cacheKey := fmt.Sprintf("%d|%d|%d", w.streamID, trackID, bucket)
	if _, found := w.playCache.Get(cacheKey); found {
		if w.metrics != nil {
			w.metrics.Datastore.IncrementPlaysDeduplicated(w.slot.Name)
		}
		return
	}

	playID, inserted, err := w.store.InsertPlay(w.streamID, trackID, c.RecognizedAt, c.Confidence)
	if err != nil {
		w.logger.Error("play insert failed", "window_id", windowID, "error", err)
		return
	}
	w.playCache.SetDefault(cacheKey, playID)

	if !inserted {
		if w.metrics != nil {
			w.metrics.Datastore.IncrementPlaysDeduplicated(w.slot.Name)
		}
		return
	}

	if w.metrics != nil {
		w.metrics.Datastore.IncrementPlaysInserted(w.slot.Name, c.Match.Provider)
	}
	w.logger.Info("play recorded",
		"window_id", windowID,
		"title", c.Match.Title, "artist", c.Match.Artist,
		"confidence", c.Confidence, "play_id", playID)

	if w.publisher != nil {
		w.publisher.Notify(mqtt.PlayEvent{
			Stream:       w.slot.Name,
			Provider:     c.Match.Provider,
			Title:        c.Match.Title,
			Artist:       c.Match.Artist,
			Album:        c.Match.Album,
			ISRC:         c.Match.ISRC,
			ArtworkURL:   c.Match.ArtworkURL,
			Confidence:   c.Confidence,
			RecognizedAt: c.RecognizedAt,
		})
	}
}

func (w *StreamWorker) captureMetrics() *metrics.CaptureMetrics {
	if w.metrics == nil {
		return nil
	}
	return w.metrics.Capture
}

// newWindowID returns the correlation id tying one window's log lines and
// notifications together.
func newWindowID() string {
	return uuid.NewString()
}

// trackMetadata keeps the raw provider response as the track's metadata
// blob when it is valid JSON.
func trackMetadata(raw json.RawMessage) string {
	if json.Valid(raw) {
		return string(raw)
	}
	return ""
}
