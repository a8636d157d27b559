package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/srg/envbridge/internal/radio"
)

func newDevice(p radio.ScanParams, dialTimeout time.Duration) (ble.Device, error) {
	var scanType uint8
	if p.Type == radio.ScanActive {
		scanType = 1
	}
	params := cmd.LESetScanParameters{
		LEScanType:           scanType,
		LEScanInterval:       p.Interval, // 0.625 ms units
		LEScanWindow:         p.Window,
		OwnAddressType:       uint8(p.OwnAddressType),
		ScanningFilterPolicy: uint8(p.FilterPolicy),
	}
	return linux.NewDevice(ble.OptScanParams(params), ble.OptDialerTimeout(dialTimeout))
}
