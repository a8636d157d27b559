package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Stack-level sentinel errors.
var (
	ErrNotConnected   = errors.New("not connected")
	ErrBusy           = errors.New("operation queue full")
	ErrUnsupported    = errors.New("unsupported")
	ErrScanInProgress = errors.New("scan already in progress")
	ErrNotInitialized = errors.New("radio not initialized")
	ErrUnknownHandle  = errors.New("unknown attribute handle")
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrAlreadyRunning = errors.New("event delivery already running")
	ErrUnknownProfile = errors.New("unknown application profile")
)

// OpError records a failed stack operation and the link it targeted.
type OpError struct {
	Op   string
	Conn ConnID
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Conn != 0 {
		return fmt.Sprintf("%s (conn %d): %v", e.Op, e.Conn, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NormalizeError maps platform error strings to the sentinel errors above,
// preserving the original error in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}
