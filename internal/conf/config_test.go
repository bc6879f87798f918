package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEnabledStreams(t *testing.T) {
	t.Parallel()

	s := &Settings{
		Streams: []StreamSlot{
			{Name: "lobby", URL: "rtsp://c/1", Enabled: true},
			{Name: "terrace", URL: "rtsp://c/2", Enabled: false},
			{Name: "bar", URL: "rtsp://c/3", Enabled: true},
		},
	}

	enabled := s.EnabledStreams()
	require.Len(t, enabled, 2)
	assert.Equal(t, "lobby", enabled[0].Name)
	assert.Equal(t, "bar", enabled[1].Name)
}

func TestLocation(t *testing.T) {
	t.Parallel()

	t.Run("valid zone", func(t *testing.T) {
		s := &Settings{Main: MainSettings{TimeZone: "Europe/Helsinki"}}
		loc := s.Location()
		assert.Equal(t, "Europe/Helsinki", loc.String())
	})

	t.Run("invalid zone falls back to UTC", func(t *testing.T) {
		s := &Settings{Main: MainSettings{TimeZone: "Atlantis/Capital"}}
		assert.Equal(t, time.UTC, s.Location())
	})
}

func TestWindowDurations(t *testing.T) {
	t.Parallel()

	w := WindowSettings{WindowSeconds: 12, HopSeconds: 120}
	assert.Equal(t, 12*time.Second, w.Window())
	assert.Equal(t, 2*time.Minute, w.Hop())

	r := RecognizersSettings{TimeoutSeconds: 30}
	assert.Equal(t, 30*time.Second, r.Timeout())

	a := AudioSettings{ReadTimeoutSeconds: 15}
	assert.Equal(t, 15*time.Second, a.ReadTimeout())
}

func TestEmbeddedDefaultConfigParses(t *testing.T) {
	t.Parallel()

	// The embedded template must stay in sync with the Settings struct and
	// pass validation once a stream is enabled.
	var settings Settings
	require.NoError(t, yaml.Unmarshal([]byte(getDefaultConfig()), &settings))

	assert.Equal(t, "playwatch", settings.Main.Name)
	assert.Equal(t, 12, settings.Window.WindowSeconds)
	assert.Equal(t, 120, settings.Window.HopSeconds)
	assert.Equal(t, "two_hit", settings.Decision.Policy)
	assert.Equal(t, 300, settings.Decision.DedupSeconds)
	assert.Equal(t, "shazam", settings.Decision.ConfirmingProvider)
	assert.Equal(t, 3, settings.Recognizers.GlobalMaxInflight)
	assert.Equal(t, "sqlite", settings.Output.Database.Type)
	assert.Equal(t, 30, settings.Retention.RecognitionDays)
	assert.Equal(t, -1, settings.Retention.PlayDays)
	assert.Equal(t, "04:00", settings.Retention.CleanupTime)

	require.Len(t, settings.Streams, 1)
	settings.Streams[0].Enabled = true
	assert.NoError(t, ValidateSettings(&settings))
}

func TestSaveYAMLConfigRoundtrip(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	original := validSettings()
	original.Main.Name = "roundtrip"
	original.Window.HopSeconds = 180

	require.NoError(t, SaveYAMLConfig(configPath, original))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var loaded Settings
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, "roundtrip", loaded.Main.Name)
	assert.Equal(t, 180, loaded.Window.HopSeconds)
	assert.Equal(t, original.Streams, loaded.Streams)
}

func TestSaveYAMLConfigMissingDirectory(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "missing", "config.yaml")
	require.Error(t, SaveYAMLConfig(configPath, validSettings()))
}
