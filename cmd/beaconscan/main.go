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

// newRootCmd builds the base command with every subcommand attached.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaconscan",
		Short: "iBeacon ranging and monitoring plugin",
		Long: `iBeacon ranging, region monitoring and broadcasting over Bluetooth Low Energy.

- Serve the plugin to a host application over stdio, a unix socket or a PTY
- Range beacons in one or more regions and print proximity estimates
- Monitor regions and print enter/exit transitions
- Advertise this machine as an iBeacon
- Report radio and privilege status`,
		Version: formatVersion(version),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("beaconscan %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRangeCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newBroadcastCmd())
	rootCmd.AddCommand(newStatusCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

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
