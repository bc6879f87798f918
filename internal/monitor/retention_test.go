package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/datastore"
)

func TestRetentionNextRun(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Retention.CleanupTime = "04:00"
	settings.Retention.RecognitionDays = 30
	job := NewRetentionJob(settings, nil, clock.NewFake(time.Time{}), nil)

	// Before the cleanup time: run later today.
	now := time.Date(2026, 8, 26, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 4, 0, 0, 0, time.UTC), job.nextRun(now))

	// At or past the cleanup time: run tomorrow.
	now = time.Date(2026, 8, 26, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 27, 4, 0, 0, 0, time.UTC), job.nextRun(now))

	// A malformed cleanup time falls back to 04:00.
	settings.Retention.CleanupTime = "late"
	now = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 27, 4, 0, 0, 0, time.UTC), job.nextRun(now))
}

func TestRetentionRunOncePrunesOldRows(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Retention.RecognitionDays = 30
	settings.Retention.PlayDays = -1 // plays kept forever

	store := openTestStore(t, settings)
	streamID, err := store.EnsureStream("lobby", "rtsp://cam/lobby", true)
	require.NoError(t, err)
	trackID, err := store.UpsertTrack(testProvider, "T", datastore.TrackAttrs{Title: "T"})
	require.NoError(t, err)

	now := time.Date(2026, 8, 26, 4, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)
	fresh := now.AddDate(0, 0, -1)

	for _, at := range []time.Time{old, fresh} {
		require.NoError(t, store.InsertRecognition(&datastore.Recognition{
			StreamID:     streamID,
			Provider:     testProvider,
			WindowStart:  at.Add(-12 * time.Second),
			WindowEnd:    at,
			RecognizedAt: at,
		}))
		_, _, err := store.InsertPlay(streamID, trackID, at, 0.9)
		require.NoError(t, err)
	}

	job := NewRetentionJob(settings, store, clock.NewFake(now), nil)
	job.runOnce()

	recognitions, err := store.CountRecognitionsSince(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), recognitions, "only the fresh recognition survives")

	plays, err := store.CountPlaysSince(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), plays, "play retention is disabled")
}
