package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/radio/goble"
	"github.com/srg/envbridge/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Use it to check that the sensor is advertising under the configured name
before starting the bridge. Devices whose complete local name matches
device.name are marked as targets and listed first.

Example:
  envbridge scan
  envbridge scan --duration 30s --format json
  envbridge scan --services 181a --block A4:C1:38:00:00:01`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

// parseServiceUUIDs validates the --services filter.
func parseServiceUUIDs(values []string) ([]blelib.UUID, error) {
	uuids := make([]blelib.UUID, 0, len(values))
	for _, v := range values {
		u, err := blelib.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", v, err)
		}
		uuids = append(uuids, u)
	}
	return uuids, nil
}

func normalizeAddresses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", ":")))
	}
	return out
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration < 0 {
		return fmt.Errorf("invalid duration %s: must not be negative", scanDuration)
	}
	services, err := parseServiceUUIDs(scanServices)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	backend := goble.New(&goble.Options{DialTimeout: cfg.GATT.DialTimeout}, logger)
	s, err := scanner.NewScanner(backend, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Ctrl+C pressed, cancelling scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, &scanner.ScanOptions{
		Params:       cfg.Scan.Params(),
		Duration:     scanDuration,
		ServiceUUIDs: services,
		AllowList:    normalizeAddresses(scanAllowList),
		BlockList:    normalizeAddresses(scanBlockList),
		Target:       central.NewScanFilter(cfg.Device.Name).Match,
	}, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	entries := scanner.Sorted(devices)
	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), entries)
	}
	return displayDevicesTable(cmd.OutOrStdout(), entries)
}

func displayDevicesTable(out io.Writer, entries []scanner.DeviceEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tMFR\tTARGET")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, e := range entries {
		name := e.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(e.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		mfr := "-"
		if e.ManufacturerID != nil {
			mfr = fmt.Sprintf("0x%04X", *e.ManufacturerID)
		}
		target := ""
		if e.Target {
			target = "*"
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%s\n",
			name, e.Address, e.RSSI, services, mfr, target)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, entries []scanner.DeviceEntry) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
