package recognizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/playwatch/playwatch/internal/audio"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

const defaultCallTimeout = 30 * time.Second

// FanOut dispatches one window to every configured provider in parallel.
// Calls are bounded by a global in-flight budget and a per-provider budget.
// When either budget is exhausted the call is skipped outright rather than
// queued, so recognition can never fall behind the capture schedule.
type FanOut struct {
	providers   []Recognizer
	global      *semaphore.Weighted
	perProvider map[string]*semaphore.Weighted
	timeout     time.Duration
	metrics     *metrics.RecognizerMetrics
	logger      *slog.Logger
}

// NewFanOut builds a fan-out over providers. Limits below one are raised to
// one; a non-positive timeout falls back to a safe default. A nil metrics
// receiver disables instrumentation.
func NewFanOut(providers []Recognizer, globalLimit, perProviderLimit int, timeout time.Duration, m *metrics.RecognizerMetrics) *FanOut {
	globalLimit = max(globalLimit, 1)
	perProviderLimit = max(perProviderLimit, 1)
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	perProvider := make(map[string]*semaphore.Weighted, len(providers))
	for _, provider := range providers {
		perProvider[provider.Name()] = semaphore.NewWeighted(int64(perProviderLimit))
	}

	return &FanOut{
		providers:   providers,
		global:      semaphore.NewWeighted(int64(globalLimit)),
		perProvider: perProvider,
		timeout:     timeout,
		metrics:     m,
		logger:      logging.ForService("recognizer"),
	}
}

// Recognize submits the window to every provider and returns one outcome per
// provider, in provider order. It blocks until all calls finish; the
// per-call timeout bounds the wait.
func (f *FanOut) Recognize(ctx context.Context, w audio.Window) []Outcome {
	outcomes := make([]Outcome, len(f.providers))

	var wg sync.WaitGroup
	for i, provider := range f.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = f.recognizeOne(ctx, provider, w)
		}()
	}
	wg.Wait()

	return outcomes
}

func (f *FanOut) recognizeOne(ctx context.Context, provider Recognizer, w audio.Window) Outcome {
	name := provider.Name()

	if !f.global.TryAcquire(1) {
		return f.skip(name, w.Stream, "global")
	}
	defer f.global.Release(1)

	if prov := f.perProvider[name]; prov != nil {
		if !prov.TryAcquire(1) {
			return f.skip(name, w.Stream, "provider")
		}
		defer prov.Release(1)
	}

	if f.metrics != nil {
		f.metrics.IncrementInflight(name)
		defer f.metrics.DecrementInflight(name)
	}

	out := f.callProvider(ctx, provider, w.WAV)
	f.record(w.Stream, out)
	return out
}

// callProvider runs one provider call under the per-call timeout. A
// panicking provider is converted into an internal error outcome so one bad
// adapter cannot take down the worker.
func (f *FanOut) callProvider(ctx context.Context, provider Recognizer, wav []byte) (out Outcome) {
	name := provider.Name()
	defer func() {
		if r := recover(); r != nil {
			out = errorOutcome(name, ErrorInternal,
				errors.Newf("recognizer panic: %v", r).
					Component("recognizer").Category(errors.CategoryRecognition).
					Priority(errors.PriorityHigh).Build(),
				0)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return provider.Recognize(callCtx, wav)
}

func (f *FanOut) skip(name, stream, limit string) Outcome {
	f.logger.Debug("recognition skipped, in-flight limit reached",
		"provider", name, "stream", stream, "limit", limit)
	if f.metrics != nil {
		f.metrics.IncrementRecognitions(name, stream, metrics.StatusSkipped)
	}
	return skippedOutcome(name)
}

func (f *FanOut) record(stream string, out Outcome) {
	if out.Status == StatusError {
		f.logger.Warn("recognition failed",
			"provider", out.Provider, "stream", stream,
			"error_type", out.ErrorKind.String(), "error", out.Err)
	} else {
		f.logger.Debug("recognition finished",
			"provider", out.Provider, "stream", stream,
			"status", out.Status.String(), "latency_ms", out.Latency.Milliseconds())
	}

	if f.metrics == nil {
		return
	}
	f.metrics.IncrementRecognitions(out.Provider, stream, statusLabel(out.Status))
	if out.Status == StatusError {
		f.metrics.IncrementRecognitionFailure(out.Provider, stream, out.ErrorKind.String())
	}
	if out.Status != StatusSkipped {
		f.metrics.ObserveLatency(out.Provider, out.Latency.Seconds())
	}
}

func statusLabel(s Status) string {
	switch s {
	case StatusMatch:
		return metrics.StatusSuccess
	case StatusNoMatch:
		return metrics.StatusNoMatch
	case StatusError:
		return metrics.StatusError
	case StatusSkipped:
		return metrics.StatusSkipped
	default:
		return s.String()
	}
}
