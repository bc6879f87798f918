package audio

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

const (
	// readChunkSize is the read buffer for ffmpeg stdout.
	readChunkSize = 32 * 1024
	// stableUptime is how long a process must deliver audio before the
	// consecutive failure counter resets.
	stableUptime = 5 * time.Second
	// stopGracePeriod is how long ffmpeg gets to exit after SIGTERM
	// before the process group is killed.
	stopGracePeriod = 5 * time.Second
	// processCleanupTimeout bounds the final wait after SIGKILL.
	processCleanupTimeout = 5 * time.Second
	// maxTransitionHistory caps the recorded state transitions.
	maxTransitionHistory = 100
	// restartJitterPercentMax spreads restart delays by up to +/-20%.
	restartJitterPercentMax = 20
)

// errRestartRequested signals that processAudio returned because of an
// explicit restart rather than a failure.
var errRestartRequested = errors.NewStd("restart requested")

// ProcessState tracks the lifecycle of an ffmpeg decoder process.
type ProcessState int

const (
	StateIdle ProcessState = iota
	StateStarting
	StateRunning
	StateRestarting
	StateBackoff
	StateFailed
	StateStopped
)

func (s ProcessState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StateTransition records a single state change for diagnostics.
type StateTransition struct {
	From      ProcessState
	To        ProcessState
	Timestamp time.Time
	Reason    string
}

var validStateTransitions = map[ProcessState][]ProcessState{
	StateIdle:       {StateStarting, StateStopped},
	StateStarting:   {StateRunning, StateBackoff, StateFailed, StateStopped},
	StateRunning:    {StateRestarting, StateBackoff, StateFailed, StateStopped},
	StateRestarting: {StateStarting, StateStopped},
	StateBackoff:    {StateStarting, StateStopped},
	StateFailed:     {StateStopped},
	StateStopped:    {StateStarting},
}

func isValidTransition(from, to ProcessState) bool {
	if from == to {
		return true
	}
	for _, allowed := range validStateTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// SourceConfig carries everything an FFmpegSource needs to decode one
// RTSP stream.
type SourceConfig struct {
	Stream             string
	URL                string
	Transport          string
	FfmpegPath         string
	Format             Format
	OpenTimeout        time.Duration
	ReadTimeout        time.Duration
	MaxRestartAttempts int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
}

// SourceConfigFromSettings builds the per-stream source configuration from
// the application settings.
func SourceConfigFromSettings(settings *conf.Settings, slot conf.StreamSlot) SourceConfig {
	a := settings.Audio
	return SourceConfig{
		Stream:             slot.Name,
		URL:                slot.URL,
		Transport:          a.Transport,
		FfmpegPath:         a.FfmpegPath,
		Format:             Format{SampleRate: a.SampleRate, Channels: a.Channels},
		OpenTimeout:        time.Duration(a.OpenTimeoutSeconds) * time.Second,
		ReadTimeout:        a.ReadTimeout(),
		MaxRestartAttempts: a.MaxRestartAttempts,
		BackoffBase:        time.Duration(a.BackoffBaseSeconds) * time.Second,
		BackoffCap:         time.Duration(a.BackoffCapSeconds) * time.Second,
	}
}

// FFmpegSource supervises one ffmpeg process decoding an RTSP stream to
// PCM and feeding the capture buffer. It restarts the process on failure
// with exponential backoff and gives up after the configured number of
// consecutive failures.
type FFmpegSource struct {
	cfg     SourceConfig
	buffer  *CaptureBuffer
	metrics *metrics.CaptureMetrics
	logger  *slog.Logger

	cmdMu  sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser

	stateMu     sync.RWMutex
	state       ProcessState
	transitions []StateTransition

	restartChan  chan struct{}
	failures     atomic.Int32
	lastData     atomic.Int64
	processStart atomic.Int64
}

// NewFFmpegSource creates a source for one stream. The metrics collector
// may be nil.
func NewFFmpegSource(cfg SourceConfig, buffer *CaptureBuffer, m *metrics.CaptureMetrics) *FFmpegSource {
	return &FFmpegSource{
		cfg:         cfg,
		buffer:      buffer,
		metrics:     m,
		logger:      logging.ForService("capture").With("stream", cfg.Stream),
		state:       StateIdle,
		restartChan: make(chan struct{}, 1),
	}
}

// Run supervises the decoder until ctx is cancelled or the restart budget
// is exhausted. It returns nil on a clean stop and a fatal error when the
// stream gave up; the owning worker decides what happens next.
func (s *FFmpegSource) Run(ctx context.Context) error {
	started := false
	for {
		if ctx.Err() != nil {
			s.transitionState(StateStopped, "context cancelled")
			return nil
		}

		if started && s.metrics != nil {
			s.metrics.IncrementFfmpegRestarts(s.cfg.Stream)
		}

		s.transitionState(StateStarting, "starting ffmpeg")
		if err := s.startProcess(); err != nil {
			s.logger.Error("failed to start ffmpeg", "error", err)
			started = true
			if fatal := s.handleFailure(ctx); fatal != nil {
				return fatal
			}
			continue
		}
		started = true

		s.transitionState(StateRunning, "ffmpeg process started")
		err := s.processAudio(ctx)
		s.cleanupProcess()

		if ctx.Err() != nil {
			s.transitionState(StateStopped, "context cancelled")
			return nil
		}

		if errors.Is(err, errRestartRequested) {
			s.transitionState(StateRestarting, "restart requested")
			continue
		}

		if err != nil {
			s.logger.Warn("ffmpeg stream interrupted", "error", err)
		}
		if fatal := s.handleFailure(ctx); fatal != nil {
			return fatal
		}
	}
}

// Restart asks the source to replace its current process without counting
// a failure. Safe to call from any goroutine; extra requests coalesce.
func (s *FFmpegSource) Restart(reason string) {
	s.logger.Info("stream restart requested", "reason", reason)
	select {
	case s.restartChan <- struct{}{}:
	default:
	}
}

// GetState returns the current process state.
func (s *FFmpegSource) GetState() ProcessState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// StateHistory returns a copy of the recorded state transitions.
func (s *FFmpegSource) StateHistory() []StateTransition {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]StateTransition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

func (s *FFmpegSource) transitionState(to ProcessState, reason string) {
	s.stateMu.Lock()
	from := s.state
	if from == to {
		s.stateMu.Unlock()
		return
	}
	if !isValidTransition(from, to) {
		s.stateMu.Unlock()
		s.logger.Warn("invalid state transition",
			"from", from.String(), "to", to.String(), "reason", reason)
		return
	}
	s.state = to
	s.transitions = append(s.transitions, StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	if len(s.transitions) > maxTransitionHistory {
		s.transitions = s.transitions[len(s.transitions)-maxTransitionHistory:]
	}
	s.stateMu.Unlock()

	s.logger.Debug("stream state changed",
		"from", from.String(), "to", to.String(), "reason", reason)
}

// startProcess launches ffmpeg with the stream's decode arguments.
func (s *FFmpegSource) startProcess() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	args := []string{
		"-rtsp_transport", s.cfg.Transport,
		"-timeout", strconv.FormatInt(s.cfg.OpenTimeout.Microseconds(), 10),
		"-rw_timeout", strconv.FormatInt(s.cfg.ReadTimeout.Microseconds(), 10),
		"-i", s.cfg.URL,
		"-vn",
		"-ac", strconv.Itoa(s.cfg.Format.Channels),
		"-ar", strconv.Itoa(s.cfg.Format.SampleRate),
		"-f", "wav",
		"-loglevel", "error",
		"-hide_banner",
		"pipe:1",
	}

	cmd := exec.Command(s.cfg.FfmpegPath, args...)
	setupProcessGroup(cmd)
	cmd.Stderr = newStderrWriter(s.logger)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "stdout_pipe").
			Build()
	}

	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryCommand).
			Context("operation", "start_ffmpeg").
			Context("url", sanitizeURL(s.cfg.URL)).
			Build()
	}

	s.cmd = cmd
	s.stdout = stdout
	now := time.Now()
	s.processStart.Store(now.UnixNano())
	s.lastData.Store(now.UnixNano())

	s.logger.Info("ffmpeg started",
		"pid", cmd.Process.Pid, "url", sanitizeURL(s.cfg.URL))
	return nil
}

// processAudio reads decoder output into the capture buffer until the
// process dies, a restart is requested or ctx is cancelled.
func (s *FFmpegSource) processAudio(ctx context.Context) error {
	s.cmdMu.Lock()
	stdout := s.stdout
	s.cmdMu.Unlock()
	if stdout == nil {
		return errors.Newf("no ffmpeg stdout to read").
			Component("audio").
			Category(errors.CategoryState).
			Build()
	}

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go s.watchReadGap(ctx, watchdogDone)

	trimmer := &headerTrimmer{}
	buf := make([]byte, readChunkSize)
	stable := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.restartChan:
			return errRestartRequested
		default:
		}

		n, rerr := stdout.Read(buf)
		if n > 0 {
			s.lastData.Store(time.Now().UnixNano())
			if !stable && time.Since(s.processStartTime()) >= stableUptime {
				s.resetFailures()
				stable = true
			}
			if pcm := trimmer.Trim(buf[:n]); len(pcm) > 0 {
				dropped, werr := s.buffer.Write(pcm)
				if s.metrics != nil {
					s.metrics.AddBytesReceived(s.cfg.Stream, len(pcm))
					s.metrics.AddBytesDropped(s.cfg.Stream, dropped)
				}
				if werr != nil {
					return werr
				}
			}
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(rerr, io.EOF) {
				return errors.Newf("ffmpeg closed its output").
					Component("audio").
					Category(errors.CategoryRTSP).
					Context("url", sanitizeURL(s.cfg.URL)).
					Build()
			}
			return errors.New(rerr).
				Component("audio").
				Category(errors.CategoryAudio).
				Context("operation", "read_stdout").
				Build()
		}
	}
}

// watchReadGap kills a wedged process when no data arrives within the read
// timeout. ffmpeg's own rw_timeout usually fires first; this is a backstop.
func (s *FFmpegSource) watchReadGap(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			gap := time.Since(s.lastDataTime())
			if gap < s.cfg.ReadTimeout {
				continue
			}
			if s.metrics != nil {
				s.metrics.ObserveReadGap(s.cfg.Stream, gap.Seconds())
			}
			s.logger.Warn("no audio within read timeout, killing ffmpeg",
				"gap", gap.Round(time.Millisecond))
			s.killCurrentProcess()
			return
		}
	}
}

// cleanupProcess terminates the current process, waits for it with a grace
// period and resets the capture buffer so stale audio never crosses a gap.
func (s *FFmpegSource) cleanupProcess() {
	s.cmdMu.Lock()
	cmd := s.cmd
	stdout := s.stdout
	s.cmd = nil
	s.stdout = nil
	s.cmdMu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if cmd == nil || cmd.Process == nil {
		s.buffer.Reset()
		return
	}

	if err := terminateProcessGroup(cmd); err != nil {
		_ = cmd.Process.Kill()
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case err := <-waitDone:
		s.logWaitError(err)
	case <-time.After(stopGracePeriod):
		s.logger.Warn("ffmpeg ignored SIGTERM, killing process group")
		if err := killProcessGroup(cmd); err != nil {
			_ = cmd.Process.Kill()
		}
		select {
		case err := <-waitDone:
			s.logWaitError(err)
		case <-time.After(processCleanupTimeout):
			s.logger.Error("ffmpeg did not exit after kill")
		}
	}

	s.buffer.Reset()
}

func (s *FFmpegSource) logWaitError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "signal: killed") || strings.Contains(msg, "signal: terminated") {
		return
	}
	s.logger.Debug("ffmpeg exited with error", "error", err)
}

func (s *FFmpegSource) killCurrentProcess() {
	s.cmdMu.Lock()
	cmd := s.cmd
	s.cmdMu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := killProcessGroup(cmd); err != nil {
		_ = cmd.Process.Kill()
	}
}

// handleFailure counts one failure, then either reports a fatal error or
// backs off before the next attempt. A nil return means retry.
func (s *FFmpegSource) handleFailure(ctx context.Context) error {
	failures := int(s.failures.Add(1))
	if failures >= s.cfg.MaxRestartAttempts {
		s.transitionState(StateFailed, "restart attempts exhausted")
		return errors.Newf("stream %s: ffmpeg failed %d consecutive times",
			s.cfg.Stream, failures).
			Component("audio").
			Category(errors.CategoryRTSP).
			Context("url", sanitizeURL(s.cfg.URL)).
			Priority(errors.PriorityHigh).
			Build()
	}

	delay := s.backoffDelay(failures)
	s.transitionState(StateBackoff, fmt.Sprintf("attempt %d/%d, retrying in %s",
		failures, s.cfg.MaxRestartAttempts, delay.Round(time.Millisecond)))
	if err := s.waitBackoff(ctx, delay); err != nil {
		return nil
	}
	return nil
}

func (s *FFmpegSource) resetFailures() {
	if s.failures.Swap(0) > 0 {
		s.logger.Debug("stream stabilized, failure count reset")
	}
}

// backoffDelay computes the delay before the next restart for the n-th
// consecutive failure: base doubled per failure, capped, with jitter.
func (s *FFmpegSource) backoffDelay(failures int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			break
		}
	}
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return addJitter(delay)
}

// addJitter spreads restarts by up to +/-20% so multiple streams do not
// reconnect in lockstep after a shared outage.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	span := big.NewInt(d.Nanoseconds() * 2 * restartJitterPercentMax / 100)
	if span.Sign() <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return d
	}
	offset := time.Duration(n.Int64()) - d*restartJitterPercentMax/100
	return d + offset
}

func (s *FFmpegSource) waitBackoff(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.restartChan:
		return nil
	case <-timer.C:
		return nil
	}
}

func (s *FFmpegSource) lastDataTime() time.Time {
	return time.Unix(0, s.lastData.Load())
}

func (s *FFmpegSource) processStartTime() time.Time {
	return time.Unix(0, s.processStart.Load())
}

// sanitizeURL strips credentials from a stream URL for logs and errors.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	return u.String()
}

const (
	// stderrLineLimit caps logged ffmpeg stderr lines per minute.
	stderrLineLimit = 10
	// stderrBufferMax flushes an overlong line without a newline.
	stderrBufferMax = 4096
)

// stderrWriter turns ffmpeg's stderr into rate-limited warning logs.
type stderrWriter struct {
	logger *slog.Logger

	mu          sync.Mutex
	buf         []byte
	windowStart time.Time
	lines       int
	suppressed  int
}

func newStderrWriter(logger *slog.Logger) *stderrWriter {
	return &stderrWriter{logger: logger}
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logLine(line)
		}
	}
	if len(w.buf) > stderrBufferMax {
		w.logLine(strings.TrimSpace(string(w.buf)))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *stderrWriter) logLine(line string) {
	now := time.Now()
	if now.Sub(w.windowStart) >= time.Minute {
		if w.suppressed > 0 {
			w.logger.Warn("ffmpeg stderr lines suppressed", "count", w.suppressed)
		}
		w.windowStart = now
		w.lines = 0
		w.suppressed = 0
	}
	if w.lines >= stderrLineLimit {
		w.suppressed++
		return
	}
	w.lines++
	w.logger.Warn("ffmpeg stderr", "line", line)
}
