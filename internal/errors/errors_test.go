package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBasics(t *testing.T) {
	t.Parallel()

	base := NewStd("connection refused")
	ee := New(base).
		Component("capture").
		Category(CategoryRTSP).
		Context("url", "rtsp://example.com/stream").
		Context("attempt", 3).
		Build()

	assert.Equal(t, "connection refused", ee.Error())
	assert.Equal(t, "capture", ee.GetComponent())
	assert.Equal(t, string(CategoryRTSP), ee.GetCategory())
	assert.Equal(t, "rtsp://example.com/stream", ee.GetContext()["url"])
	assert.Equal(t, 3, ee.GetContext()["attempt"])
	assert.WithinDuration(t, time.Now(), ee.Timestamp, time.Second)
	assert.True(t, Is(ee, base))
}

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	ee := Newf("window %d dropped", 7).Build()
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, string(CategoryGeneric), ee.GetCategory())
	assert.Equal(t, "window 7 dropped", ee.Error())
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, ee.GetPriority())

	ee = Newf("x").Priority("bogus").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee = Newf("x").Build()
	assert.Empty(t, ee.GetPriority())
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("read failed: %w", io.EOF)
	ee := New(wrapped).Category(CategoryAudioSource).Build()

	assert.True(t, Is(ee, io.EOF))
	assert.Equal(t, wrapped, Unwrap(ee))
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	a := Newf("a").Category(CategoryTimeout).Build()
	b := Newf("b").Category(CategoryTimeout).Build()
	c := Newf("c").Category(CategoryDatabase).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestTimingContext(t *testing.T) {
	t.Parallel()

	ee := Newf("slow").Timing("recognize", 1500*time.Millisecond).Build()
	ctx := ee.GetContext()
	assert.Equal(t, "recognize", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])
}

func TestTelemetryReporter(t *testing.T) {
	var seen []*EnhancedError
	SetTelemetryReporter(func(ee *EnhancedError) {
		seen = append(seen, ee)
	})
	defer SetTelemetryReporter(nil)

	ee := Newf("reported").Category(CategoryMQTT).Build()

	require.Len(t, seen, 1)
	assert.Same(t, ee, seen[0])
	assert.True(t, ee.IsReported())
}

func TestNoReporterNoPanic(t *testing.T) {
	SetTelemetryReporter(nil)
	ee := Newf("quiet").Build()
	assert.False(t, ee.IsReported())
}
