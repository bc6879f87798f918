// Package errors provides enhanced error handling for playwatch with
// component tagging, categorization and optional telemetry reporting.
// It wraps the standard library errors package so call sites only need
// this one import.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory provides high-level error categorization for aggregation
// and telemetry grouping.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryAudio         ErrorCategory = "audio-processing"
	CategoryAudioSource   ErrorCategory = "audio-source"
	CategoryRTSP          ErrorCategory = "rtsp-connection"
	CategoryBuffer        ErrorCategory = "audio-buffer"
	CategoryRecognition   ErrorCategory = "recognition"
	CategoryRateLimit     ErrorCategory = "rate-limit"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryDatabase      ErrorCategory = "database"
	CategoryMQTT          ErrorCategory = "mqtt"
	CategoryWorker        ErrorCategory = "worker"
	CategoryFileIO        ErrorCategory = "file-io"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryCommand       ErrorCategory = "command-execution"
	CategoryState         ErrorCategory = "state"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority values for explicit error prioritization.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when no component was set on the builder.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  bool
	mu        sync.RWMutex
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is/As chains.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches other enhanced errors by category, otherwise defers to the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	var other *EnhancedError
	if errors.As(target, &other) {
		return ee.Category == other.Category
	}
	return errors.Is(ee.Err, target)
}

// GetComponent returns the component the error was tagged with.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority, empty if unset.
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(ee.Context))
	maps.Copy(cp, ee.Context)
	return cp
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether telemetry has seen this error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for building enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component tags the error with the subsystem it originated in.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority; invalid values fall back to medium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

// Context attaches a key/value pair to the error.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing records an operation name and its duration in the context.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build finalizes the enhanced error and hands it to the telemetry
// reporter when one is registered.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.component == "" {
		ee.component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}

	reportToTelemetry(ee)
	return ee
}

// TelemetryReporter receives every built enhanced error when reporting is
// enabled. Implementations must be fast and non-blocking.
type TelemetryReporter func(*EnhancedError)

var (
	telemetryMu       sync.RWMutex
	telemetryReporter TelemetryReporter
	reportingActive   atomic.Bool
)

// SetTelemetryReporter installs the process-wide reporter. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	telemetryReporter = reporter
	telemetryMu.Unlock()
	reportingActive.Store(reporter != nil)
}

func reportToTelemetry(ee *EnhancedError) {
	if !reportingActive.Load() {
		return
	}
	telemetryMu.RLock()
	reporter := telemetryReporter
	telemetryMu.RUnlock()
	if reporter != nil && !ee.IsReported() {
		reporter(ee)
		ee.MarkReported()
	}
}

// Standard library re-exports so call sites need only this package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join wraps a multi-error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// NewStd creates a plain standard library error without enhancement, for
// sentinel error values.
func NewStd(text string) error {
	return errors.New(text)
}
