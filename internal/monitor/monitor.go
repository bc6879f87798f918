// monitor.go: top-level wiring of the monitoring pipeline and its
// lifecycle: store, metrics endpoint, MQTT notifier, worker manager,
// retention, stats and the signal loop.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/playwatch/playwatch/internal/clock"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/datastore"
	"github.com/playwatch/playwatch/internal/decision"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/httpclient"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/mqtt"
	"github.com/playwatch/playwatch/internal/observability"
	"github.com/playwatch/playwatch/internal/recognizer"
	"github.com/playwatch/playwatch/internal/telemetry"
)

// RunMonitoring starts the full pipeline and blocks until a termination
// signal arrives. SIGHUP and config file changes trigger a hot reload.
func RunMonitoring(settings *conf.Settings) error {
	logger := logging.ForService("monitor")
	logger.Info("starting playwatch monitor",
		"streams", len(settings.EnabledStreams()),
		"window", settings.Window.Window(),
		"hop", settings.Window.Hop())

	if settings.Audio.FfmpegPath == conf.GetFfmpegBinaryName() && !conf.IsFfmpegAvailable() {
		logger.Warn("ffmpeg not found in PATH, stream capture will fail until it is installed")
	}

	if err := telemetry.Init(settings); err != nil {
		logger.Warn("telemetry initialization failed, continuing without it", "error", err)
	}
	defer telemetry.Shutdown()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return errors.New(err).
			Component("monitor").
			Category(errors.CategorySystem).
			Build()
	}

	store, err := datastore.New(settings, metrics.Datastore)
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return errors.New(err).
			Component("monitor").
			Category(errors.CategoryDatabase).
			Build()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hc := httpclient.New(nil)
	defer hc.Close()

	providers := recognizer.FromSettings(settings, hc)
	if len(providers) == 0 {
		return errors.Newf("no recognition providers enabled").
			Component("monitor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	fanout := recognizer.NewFanOut(providers,
		settings.Recognizers.GlobalMaxInflight,
		settings.Recognizers.PerProviderMaxInflight,
		settings.Recognizers.Timeout(),
		metrics.Recognizer)

	aggregator := decision.NewAggregator(
		settings.Decision.ConfirmingProvider,
		settings.Decision.TwoHitHopTolerance,
		metrics.Monitor)

	var notifier *mqtt.Notifier
	if settings.Output.MQTT.Enabled {
		client := mqtt.NewClient(settings, metrics.MQTT)
		if err := client.Connect(ctx); err != nil {
			// The client reconnects on its own; a dead broker at startup
			// must not keep plays from being recorded.
			logger.Warn("initial MQTT connection failed", "error", err)
		}
		notifier = mqtt.NewNotifier(settings, client, metrics.MQTT)
		notifier.Start(ctx)
		defer notifier.Close()
	}

	var publisher PlayPublisher
	if notifier != nil {
		publisher = notifier
	}

	clk := clock.NewReal()
	manager := NewManager(settings, store, fanout, aggregator, publisher, clk, metrics)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	quitChan := make(chan struct{})
	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics, func() observability.HealthStatus {
			return observability.HealthStatus{
				Status:        "ok",
				ActiveStreams: manager.ActiveWorkers(),
			}
		})
		if err != nil {
			return err
		}
		var wg sync.WaitGroup
		endpoint.Start(&wg, quitChan)
		defer wg.Wait()
	}
	defer close(quitChan)

	go NewRetentionJob(settings, store, clk, metrics.Datastore).Run(ctx)
	go NewStatsReporter(settings, manager, store, clk, metrics).Run(ctx)

	reloadChan := make(chan struct{}, 1)
	watchConfig(reloadChan)

	return signalLoop(ctx, manager, reloadChan, logger)
}

// watchConfig pushes a reload request whenever the config file changes on
// disk. Editors often fire several events per save; the buffered channel
// coalesces them.
func watchConfig(reloadChan chan<- struct{}) {
	viper.OnConfigChange(func(fsnotify.Event) {
		select {
		case reloadChan <- struct{}{}:
		default:
		}
	})
	viper.WatchConfig()
}

// signalLoop blocks on termination and reload signals.
func signalLoop(ctx context.Context, manager *Manager, reloadChan <-chan struct{}, logger *slog.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				reloadSettings(manager, logger)
				continue
			}
			logger.Info("termination signal received, shutting down", "signal", sig.String())
			return nil
		case <-reloadChan:
			logger.Info("configuration file changed, reloading")
			reloadSettings(manager, logger)
		}
	}
}

// reloadSettings re-reads and validates the configuration and hands it to
// the manager. A broken config leaves the running workers untouched.
func reloadSettings(manager *Manager, logger *slog.Logger) {
	settings, err := conf.Load()
	if err != nil {
		logger.Error("configuration reload rejected", "error", err)
		return
	}
	if err := manager.Reload(settings); err != nil {
		logger.Error("configuration reload failed", "error", err)
	}
}
