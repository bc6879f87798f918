// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// validSampleRates lists the PCM sample rates the capture pipeline accepts.
var validSampleRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	32000: true,
	44100: true,
	48000: true,
}

// cleanupTimePattern matches the HH:MM wall clock format of the retention schedule.
var cleanupTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateMainSettings(&settings.Main); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStreamSettings(settings.Streams); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWindowSettings(&settings.Window); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDecisionSettings(&settings.Decision, &settings.Recognizers); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRecognizerSettings(&settings.Recognizers); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDatabaseSettings(&settings.Output.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&settings.Output.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRetentionSettings(&settings.Retention); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateMainSettings validates the node-wide settings
func validateMainSettings(settings *MainSettings) error {
	var errs []string

	if settings.Name == "" {
		errs = append(errs, "main name must not be empty")
	}

	if _, err := time.LoadLocation(settings.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("main timezone '%s' is not a valid IANA zone", settings.TimeZone))
	}

	switch strings.ToLower(settings.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("main loglevel must be one of trace, debug, info, warn, error; got '%s'", settings.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("main settings errors: %v", errs)
	}
	return nil
}

// validateStreamSettings validates the stream slot list
func validateStreamSettings(streams []StreamSlot) error {
	var errs []string

	if len(streams) > maxStreamSlots {
		errs = append(errs, fmt.Sprintf("at most %d stream slots are supported, got %d", maxStreamSlots, len(streams)))
	}

	enabledCount := 0
	seenNames := make(map[string]bool)
	for i := range streams {
		slot := &streams[i]
		if !slot.Enabled {
			continue
		}
		enabledCount++

		if slot.Name == "" {
			errs = append(errs, fmt.Sprintf("stream %d is enabled but has no name", i+1))
		} else if seenNames[slot.Name] {
			errs = append(errs, fmt.Sprintf("stream name '%s' is used by more than one enabled slot", slot.Name))
		}
		seenNames[slot.Name] = true

		if slot.URL == "" {
			errs = append(errs, fmt.Sprintf("stream %d is enabled but has no URL", i+1))
		} else if !strings.HasPrefix(slot.URL, "rtsp://") && !strings.HasPrefix(slot.URL, "rtsps://") {
			errs = append(errs, fmt.Sprintf("stream %d URL must start with rtsp:// or rtsps://", i+1))
		}
	}

	if enabledCount == 0 {
		errs = append(errs, "at least one stream must be enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("stream settings errors: %v", errs)
	}
	return nil
}

// validateWindowSettings validates the windowing schedule
func validateWindowSettings(settings *WindowSettings) error {
	var errs []string

	if settings.WindowSeconds <= 0 {
		errs = append(errs, "window length must be positive")
	}

	if settings.HopSeconds <= 0 {
		errs = append(errs, "hop interval must be positive")
	}

	// The capture buffer holds one window plus one hop of audio, and a window
	// is carved out of it at each hop boundary. A hop shorter than the window
	// would demand overlapping reads the buffer cannot serve.
	if settings.HopSeconds <= settings.WindowSeconds {
		errs = append(errs, fmt.Sprintf("hop interval (%ds) must be longer than the window (%ds)", settings.HopSeconds, settings.WindowSeconds))
	}

	if len(errs) > 0 {
		return fmt.Errorf("window settings errors: %v", errs)
	}
	return nil
}

// validateDecisionSettings validates the play confirmation policy
func validateDecisionSettings(settings *DecisionSettings, recognizers *RecognizersSettings) error {
	var errs []string

	if settings.Policy != "two_hit" {
		errs = append(errs, fmt.Sprintf("decision policy must be 'two_hit', got '%s'", settings.Policy))
	}

	if settings.TwoHitHopTolerance < 0 {
		errs = append(errs, "two-hit hop tolerance must be non-negative")
	}

	if settings.DedupSeconds <= 0 {
		errs = append(errs, "dedup window must be positive")
	}

	switch settings.ConfirmingProvider {
	case "shazam":
		if !recognizers.Shazam.Enabled {
			errs = append(errs, "confirming provider 'shazam' is not enabled")
		}
	case "acoustid":
		if !recognizers.AcoustID.Enabled {
			errs = append(errs, "confirming provider 'acoustid' is not enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("confirming provider must be 'shazam' or 'acoustid', got '%s'", settings.ConfirmingProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("decision settings errors: %v", errs)
	}
	return nil
}

// validateRecognizerSettings validates provider fan-out limits and adapters
func validateRecognizerSettings(settings *RecognizersSettings) error {
	var errs []string

	if settings.GlobalMaxInflight < 1 {
		errs = append(errs, "global max inflight recognitions must be at least 1")
	}

	if settings.PerProviderMaxInflight < 1 {
		errs = append(errs, "per-provider max inflight recognitions must be at least 1")
	}

	if settings.TimeoutSeconds < 1 {
		errs = append(errs, "recognition timeout must be at least 1 second")
	}

	if !settings.Shazam.Enabled && !settings.AcoustID.Enabled {
		errs = append(errs, "at least one recognition provider must be enabled")
	}

	if settings.Shazam.Enabled && settings.Shazam.Endpoint == "" {
		errs = append(errs, "Shazam endpoint must not be empty when enabled")
	}

	if settings.AcoustID.Enabled && settings.AcoustID.FpcalcPath == "" {
		errs = append(errs, "AcoustID fpcalc path must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("recognizer settings errors: %v", errs)
	}
	return nil
}

// validateAudioSettings validates the capture settings
func validateAudioSettings(settings *AudioSettings) error {
	var errs []string

	if !validSampleRates[settings.SampleRate] {
		errs = append(errs, fmt.Sprintf("sample rate must be one of 8000, 16000, 22050, 32000, 44100, 48000; got %d", settings.SampleRate))
	}

	if settings.Channels != 1 && settings.Channels != 2 {
		errs = append(errs, fmt.Sprintf("channel count must be 1 or 2, got %d", settings.Channels))
	}

	if settings.Transport != "tcp" && settings.Transport != "udp" {
		errs = append(errs, fmt.Sprintf("RTSP transport must be 'tcp' or 'udp', got '%s'", settings.Transport))
	}

	if settings.FfmpegPath == "" {
		errs = append(errs, "ffmpeg path must not be empty")
	}

	if settings.OpenTimeoutSeconds < 1 {
		errs = append(errs, "open timeout must be at least 1 second")
	}

	if settings.ReadTimeoutSeconds < 1 {
		errs = append(errs, "read timeout must be at least 1 second")
	}

	if settings.MaxRestartAttempts < 1 {
		errs = append(errs, "max restart attempts must be at least 1")
	}

	if settings.BackoffBaseSeconds < 1 {
		errs = append(errs, "backoff base must be at least 1 second")
	}

	if settings.BackoffCapSeconds < settings.BackoffBaseSeconds {
		errs = append(errs, "backoff cap must not be below the backoff base")
	}

	if len(errs) > 0 {
		return fmt.Errorf("audio settings errors: %v", errs)
	}
	return nil
}

// validateDatabaseSettings validates the store backend configuration
func validateDatabaseSettings(settings *DatabaseSettings) error {
	var errs []string

	switch settings.Type {
	case "sqlite":
		if settings.Path == "" {
			errs = append(errs, "sqlite database path must not be empty")
		}
	case "mysql":
		if settings.Host == "" {
			errs = append(errs, "mysql host must not be empty")
		}
		if settings.Port < 1 || settings.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mysql port must be between 1 and 65535, got %d", settings.Port))
		}
		if settings.Name == "" {
			errs = append(errs, "mysql database name must not be empty")
		}
		if settings.Username == "" {
			errs = append(errs, "mysql username must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("database type must be 'sqlite' or 'mysql', got '%s'", settings.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database settings errors: %v", errs)
	}
	return nil
}

// validateMQTTSettings validates the play notifier configuration
func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if settings.Broker == "" {
		errs = append(errs, "MQTT broker must not be empty when enabled")
	}

	if settings.Topic == "" {
		errs = append(errs, "MQTT topic must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("MQTT settings errors: %v", errs)
	}
	return nil
}

// validateRetentionSettings validates the cleanup job configuration
func validateRetentionSettings(settings *RetentionSettings) error {
	var errs []string

	if settings.RecognitionDays < -1 || settings.RecognitionDays == 0 {
		errs = append(errs, "recognition retention days must be positive, or -1 to disable pruning")
	}

	if settings.PlayDays < -1 || settings.PlayDays == 0 {
		errs = append(errs, "play retention days must be positive, or -1 to disable pruning")
	}

	if !cleanupTimePattern.MatchString(settings.CleanupTime) {
		errs = append(errs, fmt.Sprintf("cleanup time must be HH:MM, got '%s'", settings.CleanupTime))
	}

	if len(errs) > 0 {
		return fmt.Errorf("retention settings errors: %v", errs)
	}
	return nil
}

// validateTelemetrySettings validates the metrics endpoint configuration
func validateTelemetrySettings(settings *TelemetrySettings) error {
	if !settings.Enabled {
		return nil
	}

	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("telemetry listen address '%s' is not host:port: %w", settings.Listen, err)
	}
	return nil
}
