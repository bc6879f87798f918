// Package validate provides the configuration check command.
package validate

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/playwatch/playwatch/internal/conf"
)

// Command creates the validate command: load the configuration, run the
// full validation and print the effective stream and provider set.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective setup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration OK")
			if configFile, err := conf.FindConfigFile(); err == nil {
				fmt.Fprintln(out, "config file:", configFile)
			}
			fmt.Fprintf(out, "window %s, hop %s, dedup %ds, policy %s (tolerance %d)\n",
				settings.Window.Window(), settings.Window.Hop(),
				settings.Decision.DedupSeconds,
				settings.Decision.Policy, settings.Decision.TwoHitHopTolerance)

			fmt.Fprintln(out, "streams:")
			for _, slot := range settings.Streams {
				state := "disabled"
				if slot.Enabled {
					state = "enabled"
				}
				fmt.Fprintf(out, "  %-20s %-8s %s\n", slot.Name, state, slot.URL)
			}

			fmt.Fprintln(out, "providers:")
			printProvider(out, "shazam", settings.Recognizers.Shazam.Enabled,
				settings.Decision.ConfirmingProvider)
			printProvider(out, "acoustid", settings.Recognizers.AcoustID.Enabled,
				settings.Decision.ConfirmingProvider)

			fmt.Fprintln(out, "tools:")
			printTool(out, conf.GetFfmpegBinaryName(), settings.Audio.FfmpegPath)
			if settings.Recognizers.AcoustID.Enabled {
				printTool(out, conf.GetFpcalcBinaryName(), settings.Recognizers.AcoustID.FpcalcPath)
			}
			return nil
		},
	}
}

func printTool(out io.Writer, name, configuredPath string) {
	resolved, err := conf.ValidateToolPath(configuredPath, name)
	if err != nil {
		fmt.Fprintf(out, "  %-20s NOT FOUND (%v)\n", name, err)
		return
	}
	fmt.Fprintf(out, "  %-20s %s\n", name, resolved)
}

func printProvider(out io.Writer, name string, enabled bool, confirming string) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	suffix := ""
	if name == confirming {
		suffix = " (confirming)"
	}
	fmt.Fprintf(out, "  %-20s %s%s\n", name, state, suffix)
}
