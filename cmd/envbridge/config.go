package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/envbridge/pkg/config"
)

var configPath string

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Prints the configuration envbridge would run with: built-in defaults
overlaid with the file given by --config. The output is a valid config file.

Example:
  envbridge config > envbridge.yaml
  envbridge config --config envbridge.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

// loadConfig reads --config over the defaults and validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configSource(), err)
	}
	return cfg, nil
}

func configSource() string {
	if configPath == "" {
		return "defaults"
	}
	return configPath
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
