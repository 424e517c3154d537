package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Every call returns fresh flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tagmon",
		Short: "TI SensorTag environmental monitor",
		Long: `Monitor a TI CC1350 SensorTag over Bluetooth Low Energy:

- Scan for SensorTag peripherals advertising nearby
- Connect, enable the humidity and light sensors and stream decoded samples
- Optionally upload readings with a fixed location to an HTTP collector
- Decode captured sensor payloads offline`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("tagmon {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newDecodeCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tagmon/config.yaml)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
