//go:build !linux && !darwin

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/radio"
)

func newDevice(_ radio.ScanParams, _ time.Duration) (ble.Device, error) {
	return nil, radio.ErrUnsupported
}
