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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "envbridge",
	Short: "BLE environmental sensor to MQTT bridge",
	Long: `Bridges a Bluetooth Low Energy temperature/humidity sensor to an MQTT broker:

- Scans for the sensor by its advertised name and connects to it
- Discovers the measurement service and subscribes to its notifications
- Decodes every notification into a reading (fixed layout or a Lua script)
- Publishes the latest reading as JSON and shows a live status panel

Use "envbridge scan" to find the sensor and "envbridge decode" to check a payload.

Defaults target the Xiaomi LYWSD03MMC; see "envbridge config" for every setting.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("envbridge {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults are used when omitted)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides log_level from the config")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
