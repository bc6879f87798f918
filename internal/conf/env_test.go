package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvPositiveInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"one", "1", false},
		{"large", "3600", false},
		{"zero", "0", true},
		{"negative", "-5", true},
		{"float", "1.5", true},
		{"text", "twelve", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvPositiveInt(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvNonNegativeInt(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvNonNegativeInt("0"))
	assert.NoError(t, validateEnvNonNegativeInt("3"))
	require.Error(t, validateEnvNonNegativeInt("-1"))
	require.Error(t, validateEnvNonNegativeInt("abc"))
}

func TestValidateEnvDecisionPolicy(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvDecisionPolicy("two_hit"))
	require.Error(t, validateEnvDecisionPolicy("one_hit"))
	require.Error(t, validateEnvDecisionPolicy(""))
}

func TestValidateEnvTimeZone(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvTimeZone("UTC"))
	assert.NoError(t, validateEnvTimeZone("Europe/Helsinki"))
	require.Error(t, validateEnvTimeZone("Mars/Olympus"))
}

func TestValidateEnvLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"trace", "trace", false},
		{"debug", "debug", false},
		{"info", "info", false},
		{"warn", "warn", false},
		{"error", "error", false},
		{"uppercase", "INFO", false},
		{"warning", "warning", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvLogLevel(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    bool
		wantErr bool
	}{
		{"true", "true", true, false},
		{"one", "1", true, false},
		{"yes", "yes", true, false},
		{"on", "on", true, false},
		{"TRUE", "TRUE", true, false},
		{"padded", " true ", true, false},
		{"false", "false", false, false},
		{"zero", "0", false, false},
		{"no", "no", false, false},
		{"off", "off", false, false},
		{"maybe", "maybe", false, true},
		{"empty", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// t.Setenv is incompatible with t.Parallel, so the override tests run serially.

func TestApplyStreamEnvOverridesNewSlots(t *testing.T) {
	t.Setenv("STREAM_1_NAME", "lobby")
	t.Setenv("STREAM_1_URL", "rtsp://cam1.local/stream")
	t.Setenv("STREAM_2_NAME", "terrace")
	t.Setenv("STREAM_2_URL", "rtsp://cam2.local/stream")
	t.Setenv("STREAM_2_ENABLED", "false")

	settings := &Settings{}
	require.NoError(t, applyStreamEnvOverrides(settings))

	require.Len(t, settings.Streams, 2)
	assert.Equal(t, "lobby", settings.Streams[0].Name)
	assert.Equal(t, "rtsp://cam1.local/stream", settings.Streams[0].URL)
	assert.True(t, settings.Streams[0].Enabled, "slot defined only via env should default to enabled")
	assert.Equal(t, "terrace", settings.Streams[1].Name)
	assert.False(t, settings.Streams[1].Enabled)
}

func TestApplyStreamEnvOverridesMergesConfigSlots(t *testing.T) {
	t.Setenv("STREAM_1_URL", "rtsp://replacement.local/stream")

	settings := &Settings{
		Streams: []StreamSlot{
			{Name: "lobby", URL: "rtsp://original.local/stream", Enabled: false},
		},
	}
	require.NoError(t, applyStreamEnvOverrides(settings))

	require.Len(t, settings.Streams, 1)
	assert.Equal(t, "lobby", settings.Streams[0].Name, "name from config file should survive")
	assert.Equal(t, "rtsp://replacement.local/stream", settings.Streams[0].URL)
	assert.True(t, settings.Streams[0].Enabled)
}

func TestApplyStreamEnvOverridesCountTruncates(t *testing.T) {
	t.Setenv("STREAM_COUNT", "1")

	settings := &Settings{
		Streams: []StreamSlot{
			{Name: "lobby", URL: "rtsp://cam1.local/stream", Enabled: true},
			{Name: "terrace", URL: "rtsp://cam2.local/stream", Enabled: true},
		},
	}
	require.NoError(t, applyStreamEnvOverrides(settings))

	require.Len(t, settings.Streams, 1)
	assert.Equal(t, "lobby", settings.Streams[0].Name)
}

func TestApplyStreamEnvOverridesInvalidValues(t *testing.T) {
	t.Run("bad enabled flag", func(t *testing.T) {
		t.Setenv("STREAM_1_NAME", "lobby")
		t.Setenv("STREAM_1_ENABLED", "maybe")

		settings := &Settings{}
		require.Error(t, applyStreamEnvOverrides(settings))
	})

	t.Run("bad count", func(t *testing.T) {
		t.Setenv("STREAM_COUNT", "lots")

		settings := &Settings{}
		require.Error(t, applyStreamEnvOverrides(settings))
	})

	t.Run("count above slot limit", func(t *testing.T) {
		t.Setenv("STREAM_COUNT", "12")

		settings := &Settings{}
		require.Error(t, applyStreamEnvOverrides(settings))
	})
}

func TestGetEnvBindingsCoverCoreKeys(t *testing.T) {
	t.Parallel()

	byEnv := make(map[string]string)
	for _, b := range getEnvBindings() {
		byEnv[b.EnvVar] = b.ConfigKey
	}

	assert.Equal(t, "window.windowseconds", byEnv["WINDOW_SECONDS"])
	assert.Equal(t, "window.hopseconds", byEnv["HOP_SECONDS"])
	assert.Equal(t, "decision.dedupseconds", byEnv["DEDUP_SECONDS"])
	assert.Equal(t, "decision.policy", byEnv["DECISION_POLICY"])
	assert.Equal(t, "decision.twohithoptolerance", byEnv["TWO_HIT_HOP_TOLERANCE"])
	assert.Equal(t, "recognizers.globalmaxinflight", byEnv["GLOBAL_MAX_INFLIGHT_RECOGNITIONS"])
	assert.Equal(t, "recognizers.perprovidermaxinflight", byEnv["PER_PROVIDER_MAX_INFLIGHT"])
	assert.Equal(t, "main.timezone", byEnv["TZ"])
	assert.Equal(t, "output.database.path", byEnv["DB_PATH"])
}
