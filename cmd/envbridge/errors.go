package main

import (
	"errors"
	"fmt"

	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
	"github.com/srg/envbridge/pkg/config"
)

// ErrInvalidPayload is returned by decode for arguments that are not hex.
var ErrInvalidPayload = errors.New("invalid payload")

// FormatUserError turns known errors into a one-line message with a hint.
func FormatUserError(err error) string {
	var verr *config.ValidationError
	var lerr *sensor.LuaError

	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("invalid configuration: %s", verr.Error())
	case errors.Is(err, radio.ErrBluetoothOff):
		return fmt.Sprintf("%v (is the adapter powered on and accessible?)", err)
	case errors.Is(err, radio.ErrUnsupported):
		return fmt.Sprintf("%v (BLE is only supported on Linux and macOS)", err)
	case errors.As(err, &lerr):
		return fmt.Sprintf("decoder script: %v", lerr)
	default:
		return err.Error()
	}
}
