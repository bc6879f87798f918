// Package telemetry forwards enhanced errors to Sentry when a DSN is
// configured. Everything here is a no-op when telemetry is disabled.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
)

const flushTimeout = 2 * time.Second

var enabled atomic.Bool

// Init configures the Sentry client and installs the error-package reporter
// hook. With telemetry disabled or no DSN it does nothing and returns nil.
func Init(settings *conf.Settings) error {
	if !settings.Sentry.Enabled || settings.Sentry.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		ServerName:       settings.Main.Name,
		AttachStacktrace: true,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	enabled.Store(true)
	errors.SetTelemetryReporter(reportError)
	logging.ForService("telemetry").Info("sentry telemetry enabled")
	return nil
}

// Enabled reports whether Sentry reporting is active.
func Enabled() bool {
	return enabled.Load()
}

// Flush drains buffered events. Called once during shutdown.
func Flush() {
	if !enabled.Load() {
		return
	}
	if !sentry.Flush(flushTimeout) {
		logging.ForService("telemetry").Warn("sentry flush timed out",
			"timeout", flushTimeout)
	}
}

// Shutdown disables reporting and flushes outstanding events.
func Shutdown() {
	if !enabled.Load() {
		return
	}
	errors.SetTelemetryReporter(nil)
	Flush()
	enabled.Store(false)
}

// reportError maps an enhanced error onto a Sentry event, carrying the
// component and category as tags and the builder context as extras.
func reportError(ee *errors.EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		scope.SetLevel(sentryLevel(ee.GetPriority()))
		for key, value := range ee.GetContext() {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(ee)
	})
}

func sentryLevel(priority string) sentry.Level {
	switch priority {
	case errors.PriorityCritical:
		return sentry.LevelFatal
	case errors.PriorityHigh:
		return sentry.LevelError
	case errors.PriorityMedium:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
