// retention.go: daily pruning of old recognitions and plays.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/datastore"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// retentionBatchSize caps rows per delete statement so the single writer
// is never held for long.
const retentionBatchSize = 1000

// RetentionJob deletes recognitions and plays older than the configured
// number of days, once a day at a fixed local wall-clock time.
type RetentionJob struct {
	settings *conf.RetentionSettings
	location *time.Location
	store    datastore.Interface
	clk      clock.Clock
	metrics  *metrics.DatastoreMetrics
	logger   *slog.Logger
}

// NewRetentionJob builds the job. The metrics receiver may be nil.
func NewRetentionJob(settings *conf.Settings, store datastore.Interface,
	clk clock.Clock, m *metrics.DatastoreMetrics) *RetentionJob {
	return &RetentionJob{
		settings: &settings.Retention,
		location: settings.Location(),
		store:    store,
		clk:      clk,
		metrics:  m,
		logger:   logging.ForService("retention"),
	}
}

// Run sleeps until each day's cleanup time and prunes. It returns when ctx
// is cancelled. With both retention periods disabled it exits immediately.
func (j *RetentionJob) Run(ctx context.Context) {
	if j.settings.RecognitionDays < 0 && j.settings.PlayDays < 0 {
		j.logger.Info("retention disabled, job not running")
		return
	}

	for {
		next := j.nextRun(j.clk.Now())
		j.logger.Debug("next retention run scheduled", "at", next)
		if j.clk.Sleep(ctx, next.Sub(j.clk.Now())) != nil {
			return
		}
		j.runOnce()
	}
}

// nextRun returns the first cleanup instant strictly after now. A malformed
// cleanup time falls back to 04:00.
func (j *RetentionJob) nextRun(now time.Time) time.Time {
	cleanup, err := time.Parse("15:04", j.settings.CleanupTime)
	if err != nil {
		cleanup, _ = time.Parse("15:04", "04:00")
	}

	local := now.In(j.location)
	run := time.Date(local.Year(), local.Month(), local.Day(),
		cleanup.Hour(), cleanup.Minute(), 0, 0, j.location)
	if !run.After(local) {
		run = run.AddDate(0, 0, 1)
	}
	return run
}

// runOnce prunes both tables with their own cutoffs.
func (j *RetentionJob) runOnce() {
	now := j.clk.Now()

	if j.settings.RecognitionDays >= 0 {
		cutoff := now.AddDate(0, 0, -j.settings.RecognitionDays)
		deleted, err := j.store.DeleteRecognitionsBefore(cutoff, retentionBatchSize)
		if err != nil {
			j.logger.Error("recognition retention failed", "error", err)
		} else if deleted > 0 {
			j.logger.Info("pruned old recognitions", "rows", deleted, "cutoff", cutoff)
		}
	}

	if j.settings.PlayDays >= 0 {
		cutoff := now.AddDate(0, 0, -j.settings.PlayDays)
		deleted, err := j.store.DeletePlaysBefore(cutoff, retentionBatchSize)
		if err != nil {
			j.logger.Error("play retention failed", "error", err)
		} else if deleted > 0 {
			j.logger.Info("pruned old plays", "rows", deleted, "cutoff", cutoff)
		}
	}

	if j.metrics != nil {
		j.metrics.SetRetentionLastRun(now.Unix())
	}
}
