package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/envbridge/bridge"
	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/display"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/radio/goble"
	"github.com/srg/envbridge/internal/sensor"
	"github.com/srg/envbridge/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sensor bridge",
	Long: `Scans for the configured sensor, subscribes to its measurement
notifications and publishes every reading to the MQTT broker until
interrupted. A status panel with link flags and the latest reading is drawn
on stdout.

The link is re-established automatically: a lost sensor is scanned for again
and a lost broker is reconnected, with readings taken meanwhile queued.

Example:
  envbridge run
  envbridge run --config envbridge.yaml --log-level debug
  envbridge run --dry-run --no-panel`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var (
	runDryRun  bool
	runNoPanel bool
)

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log readings instead of publishing them to the broker")
	runCmd.Flags().BoolVar(&runNoPanel, "no-panel", false, "Do not draw the status panel")
}

// centralConfig maps the configuration onto the central role.
func centralConfig(cfg *config.Config) central.Config {
	return central.Config{
		DeviceName:         cfg.Device.Name,
		ServiceUUID:        cfg.Device.ServiceUUID,
		CharacteristicUUID: cfg.Device.CharacteristicUUID,
		Scan:               cfg.Scan.Params(),
		ScanDuration:       cfg.Scan.Duration,
		AppID:              radio.AppID(cfg.GATT.AppID),
		LocalMTU:           cfg.GATT.LocalMTU,
		RescanOnDisconnect: cfg.GATT.RescanOnDisconnect,
		DiscoveryTimeout:   cfg.GATT.DiscoveryTimeout,
	}
}

// newPublisher returns the dry-run logger or a connecting MQTT publisher.
func newPublisher(ctx context.Context, cfg *config.Config, dryRun bool, status *bridge.StatusGroup, logger *logrus.Logger) (bridge.Publisher, error) {
	if dryRun {
		logger.WithField("topic", cfg.MQTT.Topic).Info("Dry run, readings are not published")
		return bridge.NewLogPublisher(cfg.MQTT.Topic, status, logger), nil
	}

	p, err := bridge.NewMQTTPublisher(bridge.MQTTOptions{
		Broker:         cfg.MQTT.Broker,
		Topic:          cfg.MQTT.Topic,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		OutboxSize:     uint32(cfg.MQTT.OutboxSize),
	}, status, logger)
	if err != nil {
		return nil, err
	}
	p.Connect(ctx)
	return p, nil
}

// initialLabel is shown until the first loop iteration.
func initialLabel(name string) string {
	return fmt.Sprintf("%s bridge\nStarting...\n", name)
}

func runBridge(cmd *cobra.Command, _ []string) error {
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

	decoder, err := sensor.New(cfg.Decoder.Kind, cfg.Decoder.Script)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if lua, ok := decoder.(*sensor.LuaDecoder); ok {
		defer lua.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupts gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	status := bridge.NewStatusGroup()
	publisher, err := newPublisher(ctx, cfg, runDryRun, status, logger)
	if err != nil {
		return err
	}

	var label bridge.Label
	var panel *display.Panel
	if !runNoPanel {
		l := display.NewLabel(initialLabel(cfg.Device.Name))
		panel = display.NewPanel(l, cmd.OutOrStdout(), cfg.App.RedrawInterval)
		label = l
	}

	backend := goble.New(&goble.Options{DialTimeout: cfg.GATT.DialTimeout}, logger)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Starting bridge for %s", cfg.Device.Name), "Starting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.RunDeviceBridge(
		ctx,
		&bridge.BridgeOptions{
			Stack:        backend,
			Central:      centralConfig(cfg),
			Decoder:      decoder,
			Publisher:    publisher,
			Status:       status,
			Label:        label,
			PollInterval: cfg.App.PollInterval,
			Logger:       logger,
		},
		progress.Callback(),
		func(b bridge.Bridge) (any, error) {
			if panel != nil {
				panel.Start()
				defer panel.Stop()
			}

			// Keep the bridge running until Ctrl+C or a stack failure
			err := b.Wait()
			logger.WithFields(logrus.Fields{
				"state":     b.State(),
				"published": b.Published(),
			}).Info("Bridge shutting down...")
			return nil, err
		},
	)
	return err
}

