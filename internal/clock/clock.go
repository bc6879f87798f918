// Package clock abstracts wall-clock access so time-driven components can be
// tested deterministically. The window scheduler never calls time.Now or
// time.Sleep directly; it goes through a Clock.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides the current time and interruptible sleeping.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time

	// Sleep blocks for the given duration or until the context is done,
	// returning the context error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by the system clock.
type Real struct{}

// NewReal returns the system clock.
func NewReal() *Real { return &Real{} }

// Now returns the current UTC time.
func (*Real) Now() time.Time { return time.Now().UTC() }

// Sleep waits for d or until ctx is done.
func (*Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan struct{}
}

// Fake is a manually driven Clock for tests. Sleepers block until Advance or
// SetTime moves the fake time past their deadline.
type Fake struct {
	mu         sync.Mutex
	now        time.Time
	waiters    []*fakeWaiter
	sleepCalls []time.Duration
}

// NewFake returns a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep blocks until the fake time reaches now+d or ctx is done.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleepCalls = append(f.sleepCalls, d)
	if d <= 0 {
		f.mu.Unlock()
		return ctx.Err()
	}
	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		f.removeWaiter(w)
		return ctx.Err()
	}
}

// Advance moves the fake time forward and releases any sleeper whose
// deadline has passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.releaseDueLocked()
}

// SetTime jumps the fake time to t and releases due sleepers.
func (f *Fake) SetTime(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
	f.releaseDueLocked()
}

// SleepCalls returns every duration passed to Sleep so far.
func (f *Fake) SleepCalls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleepCalls))
	copy(out, f.sleepCalls)
	return out
}

// NumSleepers returns the number of goroutines currently blocked in Sleep.
func (f *Fake) NumSleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// BlockUntilSleepers waits until at least n goroutines are blocked in Sleep.
// Tests use it to synchronize with the component under test before calling
// Advance.
func (f *Fake) BlockUntilSleepers(n int) {
	for {
		if f.NumSleepers() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *Fake) releaseDueLocked() {
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

func (f *Fake) removeWaiter(target *fakeWaiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w != target {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}
