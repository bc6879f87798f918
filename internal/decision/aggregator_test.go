package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/observability/metrics"
	"github.com/playwatch/playwatch/internal/recognizer"
)

const (
	testStream     = "lobby"
	testHopSeconds = 120
)

func testAggregator(tolerance int) *Aggregator {
	return NewAggregator(recognizer.ProviderShazam, tolerance, nil)
}

func shazamHit(trackID string, confidence float64) recognizer.Outcome {
	return recognizer.ScriptMatch(recognizer.Match{
		Provider:        recognizer.ProviderShazam,
		ProviderTrackID: trackID,
		Title:           "Track " + trackID,
		Artist:          "Artist",
		Confidence:      confidence,
	})
}

func shazamMiss() recognizer.Outcome {
	return recognizer.ScriptNoMatch(recognizer.ProviderShazam)
}

// hopEnd returns the window end time for a hop index.
func hopEnd(hop int64) time.Time {
	return time.Unix(1_700_000_040+hop*testHopSeconds+12, 0).UTC()
}

func TestConfirmSecondHitWithinTolerance(t *testing.T) {
	agg := testAggregator(1)

	_, ok := agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.8))
	assert.False(t, ok, "first hit alone must not confirm")
	assert.Equal(t, 1, agg.PendingCount(testStream))

	_, ok = agg.Observe(testStream, 1, hopEnd(1), shazamMiss())
	assert.False(t, ok)
	assert.Equal(t, 1, agg.PendingCount(testStream), "a miss one hop later keeps the candidate")

	conf, ok := agg.Observe(testStream, 2, hopEnd(2), shazamHit("T", 0.6))
	require.True(t, ok, "same track two hops later is within tolerance")
	assert.Equal(t, testStream, conf.Stream)
	assert.Equal(t, "T", conf.Match.ProviderTrackID)
	assert.Equal(t, hopEnd(2), conf.RecognizedAt, "confirmation carries the later hit's time")
	assert.InDelta(t, 0.8, conf.Confidence, 1e-9, "confirmation carries the higher confidence")
	assert.Equal(t, 0, agg.PendingCount(testStream), "confirmation clears the candidate")
}

func TestPendingExpiresWhenUnconfirmable(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
	agg.Observe(testStream, 1, hopEnd(1), shazamMiss())
	assert.Equal(t, 1, agg.PendingCount(testStream))

	// After two misses not even the next hop could confirm in time.
	agg.Observe(testStream, 2, hopEnd(2), shazamMiss())
	assert.Equal(t, 0, agg.PendingCount(testStream), "unconfirmable candidate is dropped")

	_, ok := agg.Observe(testStream, 3, hopEnd(3), shazamHit("T", 0.9))
	assert.False(t, ok, "the track starts over as a fresh candidate")
	assert.Equal(t, 1, agg.PendingCount(testStream))
}

func TestDifferentTrackReplacesPending(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))

	_, ok := agg.Observe(testStream, 1, hopEnd(1), shazamHit("U", 0.7))
	assert.False(t, ok, "a different track must not confirm the old one")
	assert.Equal(t, 1, agg.PendingCount(testStream))

	conf, ok := agg.Observe(testStream, 2, hopEnd(2), shazamHit("U", 0.8))
	require.True(t, ok)
	assert.Equal(t, "U", conf.Match.ProviderTrackID, "replacement candidate confirms, not the original")
}

func TestStaleMatchReseedsInsteadOfConfirming(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))

	_, ok := agg.Observe(testStream, 3, hopEnd(3), shazamHit("T", 0.9))
	assert.False(t, ok, "three hops exceeds 1+tolerance")
	assert.Equal(t, 1, agg.PendingCount(testStream), "stale candidate evicted, new one seeded")

	conf, ok := agg.Observe(testStream, 4, hopEnd(4), shazamHit("T", 0.9))
	require.True(t, ok)
	assert.Equal(t, hopEnd(4), conf.RecognizedAt)
}

func TestToleranceBoundary(t *testing.T) {
	t.Run("zero tolerance confirms adjacent hops only", func(t *testing.T) {
		agg := testAggregator(0)
		agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
		_, ok := agg.Observe(testStream, 1, hopEnd(1), shazamHit("T", 0.9))
		assert.True(t, ok)

		agg = testAggregator(0)
		agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
		_, ok = agg.Observe(testStream, 2, hopEnd(2), shazamHit("T", 0.9))
		assert.False(t, ok, "gap of two hops is past zero tolerance")
	})

	t.Run("gap of exactly 1+tolerance confirms", func(t *testing.T) {
		agg := testAggregator(1)
		agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
		_, ok := agg.Observe(testStream, 2, hopEnd(2), shazamHit("T", 0.9))
		assert.True(t, ok)
	})
}

func TestSameHopDuplicateIgnored(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 5, hopEnd(5), shazamHit("T", 0.9))
	_, ok := agg.Observe(testStream, 5, hopEnd(5), shazamHit("T", 0.9))
	assert.False(t, ok, "a redelivered hop is not a second hit")
	assert.Equal(t, 1, agg.PendingCount(testStream))

	_, ok = agg.Observe(testStream, 6, hopEnd(6), shazamHit("T", 0.9))
	assert.True(t, ok)
}

func TestErrorOutcomeTreatedLikeMiss(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
	agg.Observe(testStream, 1, hopEnd(1), recognizer.ScriptError(
		recognizer.ProviderShazam, recognizer.ErrorTransport, errors.NewStd("conn reset")))
	assert.Equal(t, 1, agg.PendingCount(testStream))

	_, ok := agg.Observe(testStream, 2, hopEnd(2), shazamHit("T", 0.9))
	assert.True(t, ok, "a transient provider error must not break confirmation")
}

func TestOtherProvidersNeverConfirm(t *testing.T) {
	agg := testAggregator(1)

	acoustidHit := recognizer.ScriptMatch(recognizer.Match{
		Provider:        recognizer.ProviderAcoustID,
		ProviderTrackID: "mbid-1",
		Confidence:      0.99,
	})

	_, ok := agg.Observe(testStream, 0, hopEnd(0), acoustidHit)
	assert.False(t, ok)
	_, ok = agg.Observe(testStream, 1, hopEnd(1), acoustidHit)
	assert.False(t, ok)
	assert.Equal(t, 0, agg.PendingCount(testStream), "non-confirming providers leave no state")
}

func TestStreamsAreIndependent(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe("lobby", 0, hopEnd(0), shazamHit("T", 0.9))
	_, ok := agg.Observe("patio", 1, hopEnd(1), shazamHit("T", 0.9))
	assert.False(t, ok, "hits on different streams never pair up")

	conf, ok := agg.Observe("patio", 2, hopEnd(2), shazamHit("T", 0.9))
	require.True(t, ok)
	assert.Equal(t, "patio", conf.Stream)
	assert.Equal(t, 1, agg.PendingCount("lobby"), "lobby candidate is untouched")
	assert.Equal(t, 1, agg.PendingCount(""), "only lobby remains pending overall")
}

func TestRemoveStream(t *testing.T) {
	agg := testAggregator(1)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
	require.Equal(t, 1, agg.PendingCount(testStream))

	agg.RemoveStream(testStream)
	assert.Equal(t, 0, agg.PendingCount(testStream))
}

func TestPendingGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewMonitorMetrics(registry)
	require.NoError(t, err)

	agg := NewAggregator(recognizer.ProviderShazam, 1, m)

	agg.Observe(testStream, 0, hopEnd(0), shazamHit("T", 0.9))
	expected := `
		# HELP pending_confirmations Single-hit candidates currently awaiting confirmation per stream
		# TYPE pending_confirmations gauge
		pending_confirmations{stream="lobby"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "pending_confirmations"))

	agg.Observe(testStream, 1, hopEnd(1), shazamHit("T", 0.9))
	expected = `
		# HELP pending_confirmations Single-hit candidates currently awaiting confirmation per stream
		# TYPE pending_confirmations gauge
		pending_confirmations{stream="lobby"} 0
	`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "pending_confirmations"))
}
