package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/clock"
)

// hopBase is divisible by both 120 and 10, so test schedules align on it.
const hopBase = int64(1_700_000_040)

func newTestScheduler(window, hop time.Duration, f Format, buf *CaptureBuffer, clk clock.Clock) *WindowScheduler {
	return NewWindowScheduler("lobby", window, hop, f, buf, clk, nil)
}

func TestNextCaptureStart(t *testing.T) {
	t.Parallel()

	window := 12 * time.Second
	hop := 120 * time.Second
	base := time.Unix(hopBase, 0).UTC()

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"at boundary", base, base},
		{"inside window", base.Add(11 * time.Second), base},
		{"just after window end", base.Add(13 * time.Second), base},
		{"late within budget", base.Add(71 * time.Second), base},
		{"late beyond budget", base.Add(72 * time.Second), base.Add(hop)},
		{"just before next boundary", base.Add(119 * time.Second), base.Add(hop)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestScheduler(window, hop, testFormat(), NewCaptureBuffer(1024), clock.NewFake(tt.now))
			assert.Equal(t, tt.want, s.nextCaptureStart(tt.now))
		})
	}
}

func TestNextCaptureStartNeverRepeats(t *testing.T) {
	t.Parallel()

	window := 12 * time.Second
	hop := 120 * time.Second
	base := time.Unix(hopBase, 0).UTC()

	s := newTestScheduler(window, hop, testFormat(), NewCaptureBuffer(1024), clock.NewFake(base))
	s.lastStart = base

	// Immediately after cutting the window at base, the aligned start is
	// still base; the schedule must move on to the next hop.
	got := s.nextCaptureStart(base.Add(window))
	assert.Equal(t, base.Add(hop), got)
}

func TestHopIndex(t *testing.T) {
	t.Parallel()

	hop := 120 * time.Second
	base := time.Unix(hopBase, 0).UTC()

	first := HopIndex(base, hop)
	assert.Equal(t, hopBase/120, first)
	assert.Equal(t, first+1, HopIndex(base.Add(hop), hop))
	assert.Equal(t, first, HopIndex(base, hop), "indices are stable across calls")
}

func TestSchedulerEmitsAlignedWindow(t *testing.T) {
	t.Parallel()

	window := 2 * time.Second
	hop := 10 * time.Second
	format := Format{SampleRate: 8000, Channels: 1}
	base := time.Unix(hopBase, 0).UTC()

	buf := NewCaptureBuffer(format.Bytes(window + hop))
	_, err := buf.Write(make([]byte, format.Bytes(window)))
	require.NoError(t, err)

	fake := clock.NewFake(base.Add(time.Second))
	s := newTestScheduler(window, hop, format, buf, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	windows := make(chan Window, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx, func(w Window) { windows <- w })
	}()

	fake.BlockUntilSleepers(1)
	fake.Advance(time.Second)

	var got Window
	select {
	case got = <-windows:
	case <-time.After(5 * time.Second):
		t.Fatal("no window emitted")
	}

	assert.Equal(t, "lobby", got.Stream)
	assert.Equal(t, base, got.Start)
	assert.Equal(t, base.Add(window), got.End)
	assert.Equal(t, hopBase/10, got.HopIndex)
	assert.Len(t, got.WAV, wavHeaderSize+format.Bytes(window))
	require.NoError(t, ValidateWAV(got.WAV))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestCaptureWindowWaitsForAudio(t *testing.T) {
	t.Parallel()

	window := 2 * time.Second
	hop := 10 * time.Second
	format := Format{SampleRate: 8000, Channels: 1}
	base := time.Unix(hopBase, 0).UTC()
	captureAt := base.Add(window)

	buf := NewCaptureBuffer(format.Bytes(window + hop))
	fake := clock.NewFake(captureAt)
	s := newTestScheduler(window, hop, format, buf, fake)

	emitted := make(chan Window, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.captureWindow(context.Background(), base, func(w Window) { emitted <- w })
	}()

	// First poll finds the buffer short; feed it and advance past the poll.
	fake.BlockUntilSleepers(1)
	_, err := buf.Write(make([]byte, format.Bytes(window)))
	require.NoError(t, err)
	fake.Advance(windowPollInterval)

	select {
	case w := <-emitted:
		assert.Equal(t, base, w.Start)
	case <-time.After(5 * time.Second):
		t.Fatal("window never emitted after audio arrived")
	}
	<-done
}

func TestCaptureWindowSkipsWhenAudioNeverArrives(t *testing.T) {
	t.Parallel()

	window := 2 * time.Second
	hop := 10 * time.Second
	format := Format{SampleRate: 8000, Channels: 1}
	base := time.Unix(hopBase, 0).UTC()

	buf := NewCaptureBuffer(format.Bytes(window + hop))
	fake := clock.NewFake(base.Add(window))
	s := newTestScheduler(window, hop, format, buf, fake)

	done := make(chan struct{})
	emitted := false
	go func() {
		defer close(done)
		s.captureWindow(context.Background(), base, func(Window) { emitted = true })
	}()

	// Drain the poll sleeps until the late budget (half a hop) runs out.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			assert.False(t, emitted, "an underfilled window must be skipped, not emitted")
			assert.Equal(t, base, s.lastStart)
			return
		case <-timeout:
			t.Fatal("captureWindow did not give up")
		default:
		}
		if fake.NumSleepers() > 0 {
			fake.Advance(windowPollInterval)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	format := Format{SampleRate: 8000, Channels: 1}
	base := time.Unix(hopBase, 0).UTC()
	fake := clock.NewFake(base)
	s := newTestScheduler(2*time.Second, 10*time.Second, format, NewCaptureBuffer(1024), fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(Window) {}) }()

	fake.BlockUntilSleepers(1)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
