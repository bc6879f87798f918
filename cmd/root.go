package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	monitorcmd "github.com/playwatch/playwatch/cmd/monitor"
	"github.com/playwatch/playwatch/cmd/validate"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "playwatch",
		Short: "Playwatch RTSP music recognition monitor",
		Long: "Playwatch watches RTSP audio feeds, identifies the music playing " +
			"on each and records confirmed plays with de-duplication.",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		monitorcmd.Command(settings),
		validate.Command(settings),
	)

	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
	}

	return rootCmd
}

// setupFlags defines flags global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d",
		viper.GetBool("debug"), "Enable debug output")
}
