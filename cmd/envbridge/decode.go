package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/envbridge/bridge"
	"github.com/srg/envbridge/internal/sensor"
)

// decodeCmd runs the configured decoder on a captured notification
var decodeCmd = &cobra.Command{
	Use:   "decode <hex-payload>",
	Short: "Decode a notification payload",
	Long: `Runs the configured decoder on a raw notification value and prints the
reading together with the JSON payload that would be published.

Bytes may be separated by spaces, colons or dashes; a 0x prefix is accepted.

Example:
  envbridge decode 0a0132
  envbridge decode "0A:01:32:C4:0B"
  envbridge decode --config lua.yaml 0x0a0132`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

// parsePayload accepts the usual ways BLE tools print byte strings.
func parsePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := configureLogger(cmd, cfg); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	decoder, err := sensor.New(cfg.Decoder.Kind, cfg.Decoder.Script)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if lua, ok := decoder.(*sensor.LuaDecoder); ok {
		defer lua.Close()
	}

	reading, err := decoder.Decode(payload)
	if err != nil {
		return fmt.Errorf("failed to decode % X: %w", payload, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reading: %s\n", reading)
	fmt.Fprintf(out, "Payload: %s\n", bridge.FormatPayload(reading))
	return nil
}
