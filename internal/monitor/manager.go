// manager.go: ownership and hot-reload of the per-stream workers.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/datastore"
	"github.com/playwatch/playwatch/internal/decision"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability"
	"github.com/playwatch/playwatch/internal/recognizer"
)

// shutdownDrainDeadline bounds how long a worker keeps its in-flight
// recognition alive after the capture side has stopped.
const shutdownDrainDeadline = 30 * time.Second

// stopWaitGrace pads the manager's wait past the worker drain deadline so
// a worker using the full drain budget is not reported as abandoned.
const stopWaitGrace = 5 * time.Second

type workerHandle struct {
	worker *StreamWorker
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of running stream workers, keyed by stream name. It
// starts one worker per enabled stream, applies configuration reloads as a
// set difference and never lets two workers run against the same name.
type Manager struct {
	store      datastore.Interface
	fanout     *recognizer.FanOut
	aggregator *decision.Aggregator
	publisher  PlayPublisher
	clk        clock.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	workers  map[string]*workerHandle
	settings *conf.Settings
}

// NewManager builds a manager over shared pipeline components.
func NewManager(settings *conf.Settings, store datastore.Interface, fanout *recognizer.FanOut,
	aggregator *decision.Aggregator, publisher PlayPublisher, clk clock.Clock,
	m *observability.Metrics) *Manager {
	return &Manager{
		store:      store,
		fanout:     fanout,
		aggregator: aggregator,
		publisher:  publisher,
		clk:        clk,
		metrics:    m,
		logger:     logging.ForService("monitor"),
		workers:    make(map[string]*workerHandle),
		settings:   settings,
	}
}

// Start registers every configured stream in the store and launches a
// worker for each enabled one. ctx bounds the lifetime of all workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctx = ctx
	for _, slot := range m.settings.Streams {
		if _, err := m.store.EnsureStream(slot.Name, slot.URL, slot.Enabled); err != nil {
			return errors.New(err).
				Component("monitor").
				Category(errors.CategoryDatabase).
				Context("stream", slot.Name).
				Build()
		}
	}
	for _, slot := range m.settings.EnabledStreams() {
		if err := m.startWorkerLocked(slot); err != nil {
			return err
		}
	}
	m.updateActiveGauge()
	return nil
}

// Reload applies a new configuration: removed or disabled workers stop,
// new ones start, and workers whose URL changed are restarted. Untouched
// workers keep running.
func (m *Manager) Reload(settings *conf.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil || m.ctx.Err() != nil {
		return errors.Newf("manager is not running").
			Component("monitor").
			Category(errors.CategoryState).
			Build()
	}

	oldEnabled := make(map[string]conf.StreamSlot)
	for _, slot := range m.settings.EnabledStreams() {
		oldEnabled[slot.Name] = slot
	}
	newEnabled := make(map[string]conf.StreamSlot)
	for _, slot := range settings.EnabledStreams() {
		newEnabled[slot.Name] = slot
	}

	for _, slot := range settings.Streams {
		if _, err := m.store.EnsureStream(slot.Name, slot.URL, slot.Enabled); err != nil {
			m.logger.Error("stream upsert failed during reload",
				"stream", slot.Name, "error", err)
		}
	}

	// Stop workers that disappeared or lost their enabled flag; a stopped
	// worker must be fully gone before a replacement may start.
	for name := range oldEnabled {
		if _, keep := newEnabled[name]; !keep {
			m.stopWorkerLocked(name)
			if err := m.store.SetStreamEnabled(name, false); err != nil {
				m.logger.Error("failed to disable stream", "stream", name, "error", err)
			}
		}
	}

	m.settings = settings

	for name, slot := range newEnabled {
		old, existed := oldEnabled[name]
		switch {
		case !existed:
			if err := m.startWorkerLocked(slot); err != nil {
				m.logger.Error("failed to start worker", "stream", name, "error", err)
			}
		case old.URL != slot.URL:
			m.logger.Info("stream URL changed, restarting worker", "stream", name)
			m.stopWorkerLocked(name)
			if err := m.startWorkerLocked(slot); err != nil {
				m.logger.Error("failed to restart worker", "stream", name, "error", err)
			}
		}
	}

	m.updateActiveGauge()
	m.logger.Info("configuration reload applied", "active_workers", len(m.workers))
	return nil
}

// Stop cancels all workers and waits until they finish or the drain
// deadline passes.
func (m *Manager) Stop() {
	m.mu.Lock()
	handles := make([]*workerHandle, 0, len(m.workers))
	for name, handle := range m.workers {
		handle.cancel()
		handles = append(handles, handle)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	deadline := time.After(shutdownDrainDeadline + stopWaitGrace)
	for _, handle := range handles {
		select {
		case <-handle.done:
		case <-deadline:
			m.logger.Warn("drain deadline passed, abandoning worker",
				"stream", handle.worker.Name())
		}
	}

	m.mu.Lock()
	m.updateActiveGauge()
	m.mu.Unlock()
	m.logger.Info("all workers stopped")
}

// ActiveWorkers reports the number of running workers.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// WorkerStates returns the lifecycle state of every worker by stream name.
func (m *Manager) WorkerStates() map[string]WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]WorkerState, len(m.workers))
	for name, handle := range m.workers {
		states[name] = handle.worker.State()
	}
	return states
}

// startWorkerLocked launches a worker for the slot. The caller holds m.mu.
func (m *Manager) startWorkerLocked(slot conf.StreamSlot) error {
	if _, exists := m.workers[slot.Name]; exists {
		return errors.Newf("worker already running for stream %s", slot.Name).
			Component("monitor").
			Category(errors.CategoryState).
			Build()
	}

	streamID, err := m.store.EnsureStream(slot.Name, slot.URL, slot.Enabled)
	if err != nil {
		return errors.New(err).
			Component("monitor").
			Category(errors.CategoryDatabase).
			Context("stream", slot.Name).
			Build()
	}

	worker := NewStreamWorker(m.settings, slot, streamID,
		m.store, m.fanout, m.aggregator, m.publisher, m.clk, m.metrics)

	ctx, cancel := context.WithCancel(m.ctx)
	handle := &workerHandle{worker: worker, cancel: cancel, done: make(chan struct{})}
	m.workers[slot.Name] = handle

	go func() {
		defer close(handle.done)
		worker.Run(ctx)
	}()

	m.logger.Info("worker started", "stream", slot.Name)
	return nil
}

// stopWorkerLocked stops one worker and waits for it. The caller holds m.mu.
func (m *Manager) stopWorkerLocked(name string) {
	handle, ok := m.workers[name]
	if !ok {
		return
	}
	handle.cancel()
	select {
	case <-handle.done:
	case <-time.After(shutdownDrainDeadline + stopWaitGrace):
		m.logger.Warn("worker did not stop within deadline", "stream", name)
	}
	delete(m.workers, name)
	m.logger.Info("worker stopped", "stream", name)
}

func (m *Manager) updateActiveGauge() {
	if m.metrics != nil {
		m.metrics.Capture.SetStreamsActive(len(m.workers))
	}
}
