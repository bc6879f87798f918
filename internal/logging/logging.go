// Package logging provides the shared slog setup for playwatch: a structured
// JSON logger on stdout, a human-readable text logger on stderr, and rotating
// per-service file loggers.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Levels beyond the slog built-ins.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu                  sync.RWMutex
	currentLevel        = new(slog.LevelVar)
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
)

// renameCustomLevels maps the custom level values to readable labels in output.
func renameCustomLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if label, ok := levelNames[level]; ok {
			a.Value = slog.StringValue(label)
		} else {
			a.Value = slog.StringValue(level.String())
		}
	}
	return a
}

// Init builds the process-wide loggers and installs the structured one as the
// slog default. Call once at startup, before any ForService call.
func Init() {
	mu.Lock()
	defer mu.Unlock()

	currentLevel.Set(slog.LevelInfo)

	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: renameCustomLevels,
	}))
	humanReadableLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: renameCustomLevels,
	}))

	slog.SetDefault(structuredLogger)
}

// SetLevel adjusts the minimum level of both global loggers. Safe to call at
// any time; file loggers created earlier keep their own level.
func SetLevel(level slog.Level) {
	currentLevel.Set(level)
}

// Structured returns the global JSON logger, or nil before Init.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the global text logger, or nil before Init.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService returns a child of the structured logger tagged with a service
// attribute. Falls back to slog.Default when Init has not run yet, so package
// level logger variables are always usable.
func ForService(serviceName string) *slog.Logger {
	mu.RLock()
	base := structuredLogger
	mu.RUnlock()
	if base == nil {
		base = slog.Default()
	}
	return base.With("service", serviceName)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Trace logs at the custom trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// Fatal logs at the custom fatal level and exits with status 1.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// File logger rotation settings. Rotation is size based; old files are kept
// for four weeks and compressed.
const (
	fileMaxSizeMB  = 100
	fileMaxBackups = 3
	fileMaxAgeDays = 28
)

// NewFileLogger creates a JSON logger writing to filePath with lumberjack
// rotation, tagged with the given service attribute. The returned close
// function releases the underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameCustomLevels,
	})
	logger := slog.New(handler).With("service", serviceName)

	return logger, logWriter.Close, nil
}
