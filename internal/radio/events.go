package radio

import "github.com/go-ble/ble"

// GAPEvent is an event from the advertising/scanning/connection-establishment layer.
type GAPEvent interface {
	EventName() string
	gapEvent()
}

// GATTEvent is an event from the attribute client layer.
type GATTEvent interface {
	EventName() string
	gattEvent()
}

// ----------------------------
// GAP events
// ----------------------------

// ScanParamsSet confirms a ConfigureScan request.
type ScanParamsSet struct {
	Status Status
}

// ScanStarted confirms a StartScan request.
type ScanStarted struct {
	Status Status
}

// ScanStopped confirms that scanning ended, either by StopScan or by expiry.
type ScanStopped struct {
	Status Status
}

// SearchKind distinguishes individual reports from the end of a timed scan.
type SearchKind uint8

const (
	InquiryResult SearchKind = iota
	InquiryComplete
)

// ScanResult carries one advertisement report or the end-of-scan marker.
// AdvData holds the raw advertising and scan response AD structures.
type ScanResult struct {
	Kind    SearchKind
	Addr    PeerAddress
	RSSI    int
	AdvData []byte
}

// ConnParamsUpdated reports a connection parameter update. Intervals in 1.25 ms units.
type ConnParamsUpdated struct {
	Status   Status
	MinInt   uint16
	MaxInt   uint16
	ConnInt  uint16
	Latency  uint16
	Timeout  uint16
	PeerAddr PeerAddress
}

func (ScanParamsSet) EventName() string     { return "SCAN_PARAM_SET_COMPLETE" }
func (ScanStarted) EventName() string       { return "SCAN_START_COMPLETE" }
func (ScanStopped) EventName() string       { return "SCAN_STOP_COMPLETE" }
func (ScanResult) EventName() string        { return "SCAN_RESULT" }
func (ConnParamsUpdated) EventName() string { return "UPDATE_CONN_PARAMS" }

func (ScanParamsSet) gapEvent()     {}
func (ScanStarted) gapEvent()       {}
func (ScanStopped) gapEvent()       {}
func (ScanResult) gapEvent()        {}
func (ConnParamsUpdated) gapEvent() {}

// ----------------------------
// GATT events
// ----------------------------

// Registered confirms RegisterApp. The interface id travels with the event delivery.
type Registered struct {
	AppID  AppID
	Status Status
}

// Connected reports an established physical link.
type Connected struct {
	Conn ConnID
	Addr PeerAddress
}

// Opened completes an Open request, successfully or not.
type Opened struct {
	Conn   ConnID
	Addr   PeerAddress
	Status Status
	MTU    int
}

// MTUConfigured completes a RequestMTU exchange.
type MTUConfigured struct {
	Conn   ConnID
	Status Status
	MTU    int
}

// ServiceDiscoveryComplete is raised by the stack once its own attribute
// discovery for a new link has finished. It is not requested explicitly.
type ServiceDiscoveryComplete struct {
	Conn   ConnID
	Status Status
}

// SearchResult reports one service found by SearchService.
type SearchResult struct {
	Conn  ConnID
	UUID  ble.UUID
	Range HandleRange
}

// SearchComplete ends a SearchService request.
type SearchComplete struct {
	Conn   ConnID
	Status Status
}

// NotifyRegistered completes RegisterForNotify.
type NotifyRegistered struct {
	Status Status
	Handle uint16
}

// Notification carries a value pushed by the peripheral. IsNotify is false for indications.
type Notification struct {
	Conn     ConnID
	Addr     PeerAddress
	Handle   uint16
	Value    []byte
	IsNotify bool
}

// Disconnected reports link loss. All identifiers of the link are invalid afterwards.
type Disconnected struct {
	Conn   ConnID
	Addr   PeerAddress
	Reason uint8
}

func (Registered) EventName() string               { return "REG" }
func (Connected) EventName() string                { return "CONNECT" }
func (Opened) EventName() string                   { return "OPEN" }
func (MTUConfigured) EventName() string            { return "CFG_MTU" }
func (ServiceDiscoveryComplete) EventName() string { return "DIS_SRVC_CMPL" }
func (SearchResult) EventName() string             { return "SEARCH_RES" }
func (SearchComplete) EventName() string           { return "SEARCH_CMPL" }
func (NotifyRegistered) EventName() string         { return "REG_FOR_NOTIFY" }
func (Notification) EventName() string             { return "NOTIFY" }
func (Disconnected) EventName() string             { return "DISCONNECT" }

func (Registered) gattEvent()               {}
func (Connected) gattEvent()                {}
func (Opened) gattEvent()                   {}
func (MTUConfigured) gattEvent()            {}
func (ServiceDiscoveryComplete) gattEvent() {}
func (SearchResult) gattEvent()             {}
func (SearchComplete) gattEvent()           {}
func (NotifyRegistered) gattEvent()         {}
func (Notification) gattEvent()             {}
func (Disconnected) gattEvent()             {}

// Disconnect reasons (HCI error codes) reported by backends.
const (
	ReasonUnknown              uint8 = 0x00
	ReasonConnectionTimeout    uint8 = 0x08
	ReasonRemoteUserTerminated uint8 = 0x13
	ReasonLocalHostTerminated  uint8 = 0x16
	ReasonFailedToEstablish    uint8 = 0x3E
)
