package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/envbridge/internal/radio"
)

// CoreBluetooth owns scan timing and dial timeouts; only the scan itself is configurable.
func newDevice(_ radio.ScanParams, _ time.Duration) (ble.Device, error) {
	return darwin.NewDevice()
}
