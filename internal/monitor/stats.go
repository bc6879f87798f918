// stats.go: periodic one-line status report and process gauges.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/datastore"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability"
)

// statsInterval is the cadence of the periodic report.
const statsInterval = 30 * time.Second

// StatsReporter logs a periodic summary of the monitor and refreshes the
// process gauges.
type StatsReporter struct {
	manager  *Manager
	store    datastore.Interface
	location *time.Location
	clk      clock.Clock
	metrics  *observability.Metrics
	proc     *process.Process
	logger   *slog.Logger
}

// NewStatsReporter builds the reporter. The metrics receiver may be nil.
func NewStatsReporter(settings *conf.Settings, manager *Manager,
	store datastore.Interface, clk clock.Clock, m *observability.Metrics) *StatsReporter {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &StatsReporter{
		manager:  manager,
		store:    store,
		location: settings.Location(),
		clk:      clk,
		metrics:  m,
		proc:     proc,
		logger:   logging.ForService("monitor"),
	}
}

// Run emits one report every interval until ctx is cancelled.
func (r *StatsReporter) Run(ctx context.Context) {
	for {
		if r.clk.Sleep(ctx, statsInterval) != nil {
			return
		}
		r.report()
	}
}

func (r *StatsReporter) report() {
	now := r.clk.Now().In(r.location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)

	playsToday, err := r.store.CountPlaysSince(midnight)
	if err != nil {
		r.logger.Warn("failed to count today's plays", "error", err)
		playsToday = -1
	}
	recognitionsToday, err := r.store.CountRecognitionsSince(midnight)
	if err != nil {
		recognitionsToday = -1
	}

	attrs := []any{
		"active_streams", r.manager.ActiveWorkers(),
		"plays_today", playsToday,
		"recognitions_today", recognitionsToday,
		"goroutines", runtime.NumGoroutine(),
	}

	if r.proc != nil {
		if cpu, err := r.proc.CPUPercent(); err == nil {
			attrs = append(attrs, "cpu_percent", cpu)
			if r.metrics != nil {
				r.metrics.Monitor.SetProcessCPUPercent(cpu)
			}
		}
		if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
			attrs = append(attrs, "rss_bytes", mem.RSS)
			if r.metrics != nil {
				r.metrics.Monitor.SetProcessMemoryRSS(mem.RSS)
			}
		}
	}
	if r.metrics != nil {
		r.metrics.Monitor.SetGoroutines(runtime.NumGoroutine())
	}

	r.logger.Info("monitor status", attrs...)
}
