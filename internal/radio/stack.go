package radio

import (
	"context"
	"time"

	"github.com/go-ble/ble"
)

// EventSink receives every event produced by a Stack. Calls are made from a
// single delivery goroutine, never concurrently.
type EventSink interface {
	HandleGAP(ev GAPEvent)
	HandleGATT(iface InterfaceID, ev GATTEvent)
}

// GAP is the scanning half of the stack.
type GAP interface {
	// ConfigureScan applies scan parameters; completion is ScanParamsSet.
	ConfigureScan(params ScanParams) error
	// StartScan scans for up to d (0 = until StopScan); completion is ScanStarted.
	StartScan(d time.Duration) error
	// StopScan ends scanning; completion is ScanStopped.
	StopScan() error
}

// GATTClient is the attribute client half of the stack.
type GATTClient interface {
	Open(iface InterfaceID, addr PeerAddress, direct bool) error
	Close(iface InterfaceID, conn ConnID) error
	RequestMTU(iface InterfaceID, conn ConnID) error
	SearchService(iface InterfaceID, conn ConnID, uuid ble.UUID) error
	CountAttributes(iface InterfaceID, conn ConnID, rng HandleRange) (int, error)
	CharacteristicsByUUID(iface InterfaceID, conn ConnID, rng HandleRange, uuid ble.UUID) ([]CharacteristicElem, error)
	RegisterForNotify(iface InterfaceID, addr PeerAddress, handle uint16) error
}

// Stack is the complete radio collaborator consumed by the central core.
type Stack interface {
	GAP
	GATTClient

	// RegisterApp registers a client profile; completion is Registered.
	RegisterApp(app AppID) error
	// SetLocalMTU sets the MTU offered in later RequestMTU exchanges.
	SetLocalMTU(mtu int) error
	// Run delivers events to sink until ctx is done.
	Run(ctx context.Context, sink EventSink) error
}
