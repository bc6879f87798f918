// env.go - Environment variable configuration and validation for playwatch
package conf

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// maxStreamSlots bounds the STREAM_<i>_* environment override range.
const maxStreamSlots = 5

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Windowing
		{"window.windowseconds", "WINDOW_SECONDS", validateEnvPositiveInt},
		{"window.hopseconds", "HOP_SECONDS", validateEnvPositiveInt},

		// Decision policy
		{"decision.policy", "DECISION_POLICY", validateEnvDecisionPolicy},
		{"decision.twohithoptolerance", "TWO_HIT_HOP_TOLERANCE", validateEnvNonNegativeInt},
		{"decision.dedupseconds", "DEDUP_SECONDS", validateEnvPositiveInt},
		{"decision.confirmingprovider", "CONFIRMING_PROVIDER", nil},

		// Recognizer fan-out
		{"recognizers.globalmaxinflight", "GLOBAL_MAX_INFLIGHT_RECOGNITIONS", validateEnvPositiveInt},
		{"recognizers.perprovidermaxinflight", "PER_PROVIDER_MAX_INFLIGHT", validateEnvPositiveInt},
		{"recognizers.timeoutseconds", "RECOGNITION_TIMEOUT_SECONDS", validateEnvPositiveInt},

		// Provider credentials
		{"recognizers.shazam.apikey", "SHAZAM_API_KEY", nil},
		{"recognizers.acoustid.clientkey", "ACOUSTID_CLIENT_KEY", nil},

		// Node settings
		{"main.timezone", "TZ", validateEnvTimeZone},
		{"main.loglevel", "LOG_LEVEL", validateEnvLogLevel},

		// Store and sinks
		{"output.database.path", "DB_PATH", nil},
		{"output.mqtt.password", "MQTT_PASSWORD", nil},
		{"sentry.dsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		// Bind the environment variable to the config key
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// applyStreamEnvOverrides merges STREAM_COUNT and STREAM_<i>_NAME/URL/ENABLED
// environment variables into the stream slot list. A slot index present in
// the environment overrides the corresponding config file slot; STREAM_COUNT
// truncates the list to its value.
func applyStreamEnvOverrides(settings *Settings) error {
	for i := 1; i <= maxStreamSlots; i++ {
		name, nameSet := os.LookupEnv(fmt.Sprintf("STREAM_%d_NAME", i))
		url, urlSet := os.LookupEnv(fmt.Sprintf("STREAM_%d_URL", i))
		enabledRaw, enabledSet := os.LookupEnv(fmt.Sprintf("STREAM_%d_ENABLED", i))

		if !nameSet && !urlSet && !enabledSet {
			continue
		}

		// Grow the slot list so index i exists.
		for len(settings.Streams) < i {
			settings.Streams = append(settings.Streams, StreamSlot{})
		}
		slot := &settings.Streams[i-1]

		if nameSet {
			slot.Name = name
		}
		if urlSet {
			slot.URL = url
		}
		if enabledSet {
			enabled, err := parseEnvBool(enabledRaw)
			if err != nil {
				return fmt.Errorf("invalid STREAM_%d_ENABLED value '%s': %w", i, enabledRaw, err)
			}
			slot.Enabled = enabled
		} else if nameSet || urlSet {
			// A slot defined purely through the environment is active unless
			// explicitly disabled.
			slot.Enabled = true
		}
	}

	if countRaw, ok := os.LookupEnv("STREAM_COUNT"); ok {
		count, err := strconv.Atoi(countRaw)
		if err != nil || count < 0 {
			return fmt.Errorf("invalid STREAM_COUNT value '%s': must be a non-negative integer", countRaw)
		}
		if count > maxStreamSlots {
			return fmt.Errorf("invalid STREAM_COUNT value '%s': at most %d streams are supported", countRaw, maxStreamSlots)
		}
		if count < len(settings.Streams) {
			settings.Streams = settings.Streams[:count]
		}
	}

	return nil
}

// parseEnvBool accepts the common truthy and falsy spellings used in
// container environments.
func parseEnvBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("must be one of true/false, 1/0, yes/no, on/off")
}

// Environment variable validation functions

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvDecisionPolicy(value string) error {
	if value != "two_hit" {
		return fmt.Errorf("must be 'two_hit', got '%s'", value)
	}
	return nil
}

func validateEnvTimeZone(value string) error {
	if _, err := time.LoadLocation(value); err != nil {
		return fmt.Errorf("unknown timezone: %w", err)
	}
	return nil
}

// logLevelPattern matches the slog level names the logging service accepts.
var logLevelPattern = regexp.MustCompile(`(?i)^(trace|debug|info|warn|error)$`)

func validateEnvLogLevel(value string) error {
	if !logLevelPattern.MatchString(value) {
		return fmt.Errorf("must be one of trace, debug, info, warn, error; got '%s'", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// Set up key replacer for nested config keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables with validation
	// Return any errors to the caller for centralized handling
	return bindEnvVars()
}
