// Package central implements the GATT central role for a single sensor
// peripheral: scanning by advertised name, connecting, discovering the target
// service and characteristic, subscribing to notifications and handing
// decoded readings to a polling consumer.
//
// Every handler runs on the stack's event delivery goroutine. Nothing in this
// package blocks; stack requests only enqueue work and completions come back
// as events.
package central

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
)

// Config collects the identifiers and radio parameters of the target.
type Config struct {
	DeviceName         string
	ServiceUUID        string
	CharacteristicUUID string

	Scan         radio.ScanParams
	ScanDuration time.Duration

	AppID    radio.AppID
	LocalMTU int

	RescanOnDisconnect bool
	DiscoveryTimeout   time.Duration
}

// Readings is the consumer side of the hand-off channel.
type Readings interface {
	TryReceive() (sensor.Reading, bool)
}

// Central wires the scanner, session and dispatcher to a stack.
type Central struct {
	stack      radio.Stack
	cfg        Config
	scanner    *Scanner
	session    *Session
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

// New builds the central role. Call Start then Run.
func New(stack radio.Stack, cfg Config, decoder sensor.Decoder, logger *logrus.Logger) (*Central, error) {
	registry, err := NewRegistry(cfg.DeviceName, cfg.ServiceUUID, cfg.CharacteristicUUID)
	if err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = sensor.LYWSD03MMC
	}

	scanner := NewScanner(stack, registry.Device, cfg.Scan, cfg.ScanDuration, logger)
	session := NewSession(stack, scanner, registry, decoder, SessionOptions{
		RescanOnDisconnect: cfg.RescanOnDisconnect,
		DiscoveryTimeout:   cfg.DiscoveryTimeout,
	}, logger)
	scanner.SetConnector(session)

	dispatcher := NewDispatcher(scanner, logger)
	if err := dispatcher.RegisterProfile(cfg.AppID, session); err != nil {
		return nil, err
	}

	return &Central{
		stack:      stack,
		cfg:        cfg,
		scanner:    scanner,
		session:    session,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Start registers the client profile and local MTU. Scanning begins once
// the stack confirms registration.
func (c *Central) Start() error {
	if c.cfg.LocalMTU > 0 {
		if err := c.stack.SetLocalMTU(c.cfg.LocalMTU); err != nil {
			c.logger.WithFields(logrus.Fields{
				"mtu":   c.cfg.LocalMTU,
				"error": err,
			}).Warn("Local MTU rejected")
		}
	}
	if err := c.stack.RegisterApp(c.cfg.AppID); err != nil {
		return fmt.Errorf("failed to register app %d: %w", c.cfg.AppID, err)
	}
	c.logger.WithFields(logrus.Fields{
		"device":  c.cfg.DeviceName,
		"service": c.cfg.ServiceUUID,
		"char":    c.cfg.CharacteristicUUID,
	}).Info("Central started")
	return nil
}

// Run delivers stack events to the dispatcher until ctx is done.
func (c *Central) Run(ctx context.Context) error {
	return c.stack.Run(ctx, c.dispatcher)
}

// Readings returns the receive side of the hand-off channel.
func (c *Central) Readings() Readings {
	return c.session.Readings()
}

// State returns the session state.
func (c *Central) State() State {
	return c.session.State()
}

// Session exposes the session for inspection.
func (c *Central) Session() *Session {
	return c.session
}

// Dispatcher exposes the event sink.
func (c *Central) Dispatcher() *Dispatcher {
	return c.dispatcher
}
