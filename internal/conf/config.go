// Package conf handles playwatch configuration: YAML config file discovery,
// defaults, environment overrides and validation.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/playwatch/playwatch/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// StreamSlot describes one configured RTSP feed.
type StreamSlot struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// MainSettings holds node-wide options.
type MainSettings struct {
	Name     string `yaml:"name"`     // node name, used in logs and as MQTT client id
	TimeZone string `yaml:"timezone"` // IANA zone for display and retention scheduling
	LogLevel string `yaml:"loglevel"` // trace, debug, info, warn or error
}

// WindowSettings controls the recognition windowing schedule.
type WindowSettings struct {
	WindowSeconds int `yaml:"windowseconds"`
	HopSeconds    int `yaml:"hopseconds"`
}

// Window returns the window length as a duration.
func (w *WindowSettings) Window() time.Duration {
	return time.Duration(w.WindowSeconds) * time.Second
}

// Hop returns the hop interval as a duration.
func (w *WindowSettings) Hop() time.Duration {
	return time.Duration(w.HopSeconds) * time.Second
}

// DecisionSettings controls play confirmation.
type DecisionSettings struct {
	Policy             string `yaml:"policy"`
	TwoHitHopTolerance int    `yaml:"twohithoptolerance"`
	DedupSeconds       int    `yaml:"dedupseconds"`
	ConfirmingProvider string `yaml:"confirmingprovider"`
}

// ShazamSettings configures the Shazam recognition adapter.
type ShazamSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apikey"`
}

// AcoustIDSettings configures the AcoustID recognition adapter.
type AcoustIDSettings struct {
	Enabled    bool   `yaml:"enabled"`
	ClientKey  string `yaml:"clientkey"`
	FpcalcPath string `yaml:"fpcalcpath"`
}

// RecognizersSettings controls provider fan-out and the adapters themselves.
type RecognizersSettings struct {
	GlobalMaxInflight      int              `yaml:"globalmaxinflight"`
	PerProviderMaxInflight int              `yaml:"perprovidermaxinflight"`
	TimeoutSeconds         int              `yaml:"timeoutseconds"`
	Shazam                 ShazamSettings   `yaml:"shazam"`
	AcoustID               AcoustIDSettings `yaml:"acoustid"`
}

// Timeout returns the per-call recognition timeout.
func (r *RecognizersSettings) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// AudioSettings controls ffmpeg capture of the RTSP feeds.
type AudioSettings struct {
	SampleRate         int    `yaml:"samplerate"`
	Channels           int    `yaml:"channels"`
	Transport          string `yaml:"transport"` // tcp or udp
	FfmpegPath         string `yaml:"ffmpegpath"`
	OpenTimeoutSeconds int    `yaml:"opentimeoutseconds"`
	ReadTimeoutSeconds int    `yaml:"readtimeoutseconds"`
	MaxRestartAttempts int    `yaml:"maxrestartattempts"`
	BackoffBaseSeconds int    `yaml:"backoffbaseseconds"`
	BackoffCapSeconds  int    `yaml:"backoffcapseconds"`
}

// ReadTimeout returns the read gap timeout as a duration.
func (a *AudioSettings) ReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutSeconds) * time.Second
}

// DatabaseSettings selects and configures the store backend.
type DatabaseSettings struct {
	Type     string `yaml:"type"` // sqlite or mysql
	Path     string `yaml:"path"` // sqlite file location
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// MQTTSettings configures the optional play notifier.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Retain   bool   `yaml:"retain"`
}

// OutputSettings groups the persistence and notification sinks.
type OutputSettings struct {
	Database DatabaseSettings `yaml:"database"`
	MQTT     MQTTSettings     `yaml:"mqtt"`
}

// RetentionSettings controls the daily cleanup job. Day values of -1 disable
// pruning for that table.
type RetentionSettings struct {
	RecognitionDays int    `yaml:"recognitiondays"`
	PlayDays        int    `yaml:"playdays"`
	CleanupTime     string `yaml:"cleanuptime"` // local wall clock, HH:MM
}

// TelemetrySettings controls the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings controls optional error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings is the root configuration object.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main        MainSettings        `yaml:"main"`
	Streams     []StreamSlot        `yaml:"streams"`
	Window      WindowSettings      `yaml:"window"`
	Decision    DecisionSettings    `yaml:"decision"`
	Recognizers RecognizersSettings `yaml:"recognizers"`
	Audio       AudioSettings       `yaml:"audio"`
	Output      OutputSettings      `yaml:"output"`
	Retention   RetentionSettings   `yaml:"retention"`
	Telemetry   TelemetrySettings   `yaml:"telemetry"`
	Sentry      SentrySettings      `yaml:"sentry"`
}

// EnabledStreams returns the slots that should have a running worker.
func (s *Settings) EnabledStreams() []StreamSlot {
	enabled := make([]StreamSlot, 0, len(s.Streams))
	for _, slot := range s.Streams {
		if slot.Enabled {
			enabled = append(enabled, slot)
		}
	}
	return enabled
}

// Location resolves the configured display timezone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Main.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads the configuration file and environment variables into a new
// Settings instance and installs it as the package singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Stream slots can be overridden per slot from the environment; viper
	// bindings cannot target list members, so this runs after unmarshal.
	if err := applyStreamEnvOverrides(settings); err != nil {
		return nil, fmt.Errorf("error applying stream environment overrides: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with defaults, env bindings and the config file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Invalid env values are fatal; startup must fail fast.
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded commented template to the first
// default config path and loads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default configuration template.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath atomically. Comments in an
// existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary config file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error writing temporary config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing temporary config file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
