package recognizer

import (
	"context"
	"sync"
	"time"
)

// Fake is a scripted Recognizer for tests and dry runs. Outcomes queued
// with Enqueue are served in order; once the queue runs dry every call
// returns the fallback outcome, which defaults to no match.
type Fake struct {
	name string

	mu       sync.Mutex
	queue    []Outcome
	fallback Outcome
	delay    time.Duration
	calls    int
}

// NewFake creates a scripted recognizer reporting the given provider name.
func NewFake(name string) *Fake {
	return &Fake{
		name:     name,
		fallback: Outcome{Provider: name, Status: StatusNoMatch},
	}
}

// Enqueue appends outcomes to the script.
func (f *Fake) Enqueue(outcomes ...Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, outcomes...)
}

// SetFallback replaces the outcome served after the script is exhausted.
func (f *Fake) SetFallback(out Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = out
}

// SetDelay makes every call block for d, or until the context ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls reports how many times Recognize has been invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Name implements Recognizer.
func (f *Fake) Name() string { return f.name }

// Recognize implements Recognizer.
func (f *Fake) Recognize(ctx context.Context, _ []byte) Outcome {
	f.mu.Lock()
	f.calls++
	out := f.fallback
	if len(f.queue) > 0 {
		out = f.queue[0]
		f.queue = f.queue[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return errorOutcome(f.name, classifyCallError(ctx.Err()), ctx.Err(), delay)
		case <-time.After(delay):
		}
	}

	if out.Provider == "" {
		out.Provider = f.name
	}
	return out
}

// ScriptMatch builds a positive outcome for use with Enqueue.
func ScriptMatch(m Match) Outcome {
	return Outcome{Provider: m.Provider, Status: StatusMatch, Match: &m}
}

// ScriptNoMatch builds a no-match outcome for use with Enqueue.
func ScriptNoMatch(provider string) Outcome {
	return Outcome{Provider: provider, Status: StatusNoMatch}
}

// ScriptError builds a failed outcome for use with Enqueue.
func ScriptError(provider string, kind ErrorKind, err error) Outcome {
	return Outcome{Provider: provider, Status: StatusError, ErrorKind: kind, Err: err}
}
