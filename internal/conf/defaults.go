package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value of every configuration key so
// that a partial config file still yields a complete Settings struct.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "playwatch")
	viper.SetDefault("main.timezone", "UTC")
	viper.SetDefault("main.loglevel", "info")

	// Windowing
	viper.SetDefault("window.windowseconds", 12)
	viper.SetDefault("window.hopseconds", 120)

	// Decision
	viper.SetDefault("decision.policy", "two_hit")
	viper.SetDefault("decision.twohithoptolerance", 1)
	viper.SetDefault("decision.dedupseconds", 300)
	viper.SetDefault("decision.confirmingprovider", "shazam")

	// Recognizers
	viper.SetDefault("recognizers.globalmaxinflight", 3)
	viper.SetDefault("recognizers.perprovidermaxinflight", 3)
	viper.SetDefault("recognizers.timeoutseconds", 30)
	viper.SetDefault("recognizers.shazam.enabled", true)
	viper.SetDefault("recognizers.shazam.endpoint", "https://shazam.p.rapidapi.com/songs/v2/detect")
	viper.SetDefault("recognizers.shazam.apikey", "")
	viper.SetDefault("recognizers.acoustid.enabled", false)
	viper.SetDefault("recognizers.acoustid.clientkey", "")
	viper.SetDefault("recognizers.acoustid.fpcalcpath", "fpcalc")

	// Audio capture
	viper.SetDefault("audio.samplerate", 44100)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.transport", "tcp")
	viper.SetDefault("audio.ffmpegpath", "ffmpeg")
	viper.SetDefault("audio.opentimeoutseconds", 10)
	viper.SetDefault("audio.readtimeoutseconds", 15)
	viper.SetDefault("audio.maxrestartattempts", 10)
	viper.SetDefault("audio.backoffbaseseconds", 5)
	viper.SetDefault("audio.backoffcapseconds", 60)

	// Database
	viper.SetDefault("output.database.type", "sqlite")
	viper.SetDefault("output.database.path", defaultDatabasePath())
	viper.SetDefault("output.database.host", "localhost")
	viper.SetDefault("output.database.port", 3306)
	viper.SetDefault("output.database.name", "playwatch")
	viper.SetDefault("output.database.username", "playwatch")
	viper.SetDefault("output.database.password", "")
	viper.SetDefault("output.database.debug", false)

	// MQTT
	viper.SetDefault("output.mqtt.enabled", false)
	viper.SetDefault("output.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("output.mqtt.topic", "playwatch/plays")
	viper.SetDefault("output.mqtt.username", "")
	viper.SetDefault("output.mqtt.password", "")
	viper.SetDefault("output.mqtt.retain", false)

	// Retention
	viper.SetDefault("retention.recognitiondays", 30)
	viper.SetDefault("retention.playdays", -1)
	viper.SetDefault("retention.cleanuptime", "04:00")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}

// defaultDatabasePath places the sqlite file under /data when running in a
// container, so it lands on the volume mount instead of the image layer.
func defaultDatabasePath() string {
	if RunningInContainer() {
		return "/data/playwatch.db"
	}
	return "playwatch.db"
}
