// Package monitor provides the command running the full pipeline.
package monitor

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/monitor"
)

// Command creates the monitor command, the default operational mode.
func Command(settings *conf.Settings) *cobra.Command {
	var rtspOverride string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor RTSP streams and record recognized plays",
		Long: "Start capturing the configured RTSP audio feeds, recognize the " +
			"music playing on each and record confirmed plays.",
		RunE: func(_ *cobra.Command, _ []string) error {
			if rtspOverride != "" {
				// Single-stream override for quick field tests.
				settings.Streams = []conf.StreamSlot{
					{Name: "stream_1", URL: rtspOverride, Enabled: true},
				}
				if err := conf.ValidateSettings(settings); err != nil {
					return err
				}
			}
			return monitor.RunMonitoring(settings)
		},
	}

	cmd.Flags().StringVar(&settings.Output.Database.Path, "db",
		viper.GetString("output.database.path"), "Path of the SQLite database file")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen",
		viper.GetString("telemetry.listen"), "Listen address of the metrics endpoint")
	cmd.Flags().StringVar(&rtspOverride, "rtsp", "",
		"Monitor a single RTSP URL instead of the configured streams")

	return cmd
}
