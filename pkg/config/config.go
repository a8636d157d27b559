package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Scan     ScanConfig    `yaml:"scan"`
	GATT     GATTConfig    `yaml:"gatt"`
	Decoder  DecoderConfig `yaml:"decoder"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	App      AppConfig     `yaml:"app"`
	LogLevel string        `yaml:"log_level" default:"info"`
}

// DeviceConfig identifies the target peripheral.
type DeviceConfig struct {
	Name               string `yaml:"name" default:"LYWSD03MMC"`
	ServiceUUID        string `yaml:"service_uuid" default:"ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6"`
}

// ScanConfig holds controller scan parameters. Interval and window are in 0.625 ms units.
type ScanConfig struct {
	Active          bool          `yaml:"active" default:"true"`
	Interval        uint16        `yaml:"interval" default:"80"`
	Window          uint16        `yaml:"window" default:"48"`
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"true"`
	Duration        time.Duration `yaml:"duration" default:"30s"`
}

// GATTConfig holds client profile settings.
type GATTConfig struct {
	AppID              uint16        `yaml:"app_id" default:"0"`
	LocalMTU           int           `yaml:"local_mtu" default:"500"`
	RescanOnDisconnect bool          `yaml:"rescan_on_disconnect" default:"true"`
	DiscoveryTimeout   time.Duration `yaml:"discovery_timeout" default:"0s"`
	DialTimeout        time.Duration `yaml:"dial_timeout" default:"10s"`
}

// DecoderConfig selects the notification decoder.
type DecoderConfig struct {
	Kind   string `yaml:"kind" default:"lywsd03mmc"`
	Script string `yaml:"script"` // inline Lua source or a path; empty means the embedded script
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker" default:"tcp://broker.hivemq.com:1883"`
	Topic          string        `yaml:"topic" default:"tesa_tech_update/sensor"`
	ClientID       string        `yaml:"client_id" default:"envbridge"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	OutboxSize     int           `yaml:"outbox_size" default:"16"`
}

// AppConfig holds the polling loop and panel timing.
type AppConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" default:"100ms"`
	RedrawInterval time.Duration `yaml:"redraw_interval" default:"250ms"`
}

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending key.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return &ValidationError{"device.name", "must not be empty"}
	}
	if len(c.Device.Name) > 29 {
		return &ValidationError{"device.name", "longer than an advertising name field"}
	}
	if _, err := ble.Parse(c.Device.ServiceUUID); err != nil {
		return &ValidationError{"device.service_uuid", err.Error()}
	}
	if _, err := ble.Parse(c.Device.CharacteristicUUID); err != nil {
		return &ValidationError{"device.characteristic_uuid", err.Error()}
	}

	if c.Scan.Interval < 0x0004 || c.Scan.Interval > 0x4000 {
		return &ValidationError{"scan.interval", fmt.Sprintf("must be within 4..16384, got %d", c.Scan.Interval)}
	}
	if c.Scan.Window < 0x0004 || c.Scan.Window > c.Scan.Interval {
		return &ValidationError{"scan.window", fmt.Sprintf("must be within 4..scan.interval, got %d", c.Scan.Window)}
	}
	if c.Scan.Duration < 0 {
		return &ValidationError{"scan.duration", "must not be negative"}
	}

	if c.GATT.LocalMTU != 0 && (c.GATT.LocalMTU < 23 || c.GATT.LocalMTU > 517) {
		return &ValidationError{"gatt.local_mtu", fmt.Sprintf("must be within 23..517, got %d", c.GATT.LocalMTU)}
	}
	if c.GATT.DiscoveryTimeout < 0 {
		return &ValidationError{"gatt.discovery_timeout", "must not be negative"}
	}

	switch c.Decoder.Kind {
	case sensor.KindLYWSD03MMC, sensor.KindLua:
	default:
		return &ValidationError{"decoder.kind", fmt.Sprintf("must be %q or %q, got %q", sensor.KindLYWSD03MMC, sensor.KindLua, c.Decoder.Kind)}
	}

	u, err := url.Parse(c.MQTT.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{"mqtt.broker", fmt.Sprintf("must be a broker URL such as tcp://host:1883, got %q", c.MQTT.Broker)}
	}
	if c.MQTT.Topic == "" {
		return &ValidationError{"mqtt.topic", "must not be empty"}
	}
	if c.MQTT.OutboxSize <= 0 {
		return &ValidationError{"mqtt.outbox_size", "must be > 0"}
	}

	if c.App.PollInterval <= 0 {
		return &ValidationError{"app.poll_interval", "must be > 0"}
	}
	if c.App.RedrawInterval <= 0 {
		return &ValidationError{"app.redraw_interval", "must be > 0"}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return &ValidationError{"log_level", err.Error()}
	}
	return nil
}

// Params converts the scan section for the radio stack.
func (s ScanConfig) Params() radio.ScanParams {
	p := radio.ScanParams{
		Type:            radio.ScanPassive,
		OwnAddressType:  radio.AddressPublic,
		FilterPolicy:    radio.FilterAllowAll,
		Interval:        s.Interval,
		Window:          s.Window,
		AllowDuplicates: s.AllowDuplicates,
	}
	if s.Active {
		p.Type = radio.ScanActive
	}
	return p
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
