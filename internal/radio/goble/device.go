// Package goble implements radio.Stack on top of github.com/go-ble/ble.
//
// go-ble exposes blocking calls (Scan, Dial, Discover*, Subscribe). The
// backend runs them on background goroutines and turns their outcomes into
// the request/event model of package radio: every request returns
// immediately and its completion is delivered later, in order, from the
// single goroutine running Backend.Run.
package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/radio"
)

// Link is the subset of ble.Client the backend drives for one connection.
type Link interface {
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Radio is the subset of ble.Device the backend needs.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, addr ble.Addr) (Link, error)
	Stop() error
}

// deviceRadio adapts a ble.Device to Radio.
type deviceRadio struct {
	dev ble.Device
}

func (r deviceRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return r.dev.Scan(ctx, allowDup, h)
}

func (r deviceRadio) Dial(ctx context.Context, addr ble.Addr) (Link, error) {
	client, err := r.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r deviceRadio) Stop() error {
	return r.dev.Stop()
}

// DeviceFactory opens the host controller with the given scan parameters
// (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(params radio.ScanParams, dialTimeout time.Duration) (Radio, error) {
	dev, err := newDevice(params, dialTimeout)
	if err != nil {
		return nil, err
	}
	return deviceRadio{dev: dev}, nil
}
