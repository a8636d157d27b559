package radio

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// AppID identifies a GATT client profile registered by the application.
type AppID uint16

// InterfaceID is the stack-assigned identifier bound to a registered profile.
type InterfaceID uint8

// InterfaceNone is the wildcard interface id: events carrying it concern
// every registered profile.
const InterfaceNone InterfaceID = 0xFF

// ConnID identifies one physical link. Valid until the link's Disconnected event.
type ConnID uint16

// Status is the completion status carried by stack events.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusTimeout
	StatusNotFound
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusNotFound:
		return "not_found"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AddressType tags a hardware address as public or random.
type AddressType uint8

const (
	AddressPublic AddressType = iota
	AddressRandom
)

func (t AddressType) String() string {
	if t == AddressRandom {
		return "random"
	}
	return "public"
}

// PeerAddress is a 6-byte hardware address plus its type, most significant byte first.
type PeerAddress struct {
	Addr [6]byte
	Type AddressType
}

// String formats the address as AA:BB:CC:DD:EE:FF.
func (a PeerAddress) String() string {
	parts := make([]string, len(a.Addr))
	for i, b := range a.Addr {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// IsZero reports whether no address has been captured.
func (a PeerAddress) IsZero() bool {
	return a == PeerAddress{}
}

// ParsePeerAddress parses "AA:BB:CC:DD:EE:FF" (or dash separated) into a PeerAddress.
func ParsePeerAddress(s string, typ AddressType) (PeerAddress, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return PeerAddress{}, fmt.Errorf("invalid hardware address %q", s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("invalid hardware address %q: %w", s, err)
	}
	var addr PeerAddress
	copy(addr.Addr[:], raw)
	addr.Type = typ
	return addr, nil
}

// HandleRange is the attribute handle span of a discovered service.
type HandleRange struct {
	Start uint16
	End   uint16
}

// Contains reports whether handle h falls inside the range.
func (r HandleRange) Contains(h uint16) bool {
	return h >= r.Start && h <= r.End
}

// IsZero reports whether the range was never set.
func (r HandleRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

func (r HandleRange) String() string {
	return fmt.Sprintf("0x%04X-0x%04X", r.Start, r.End)
}

// CharacteristicElem is one entry of a characteristic lookup answered from the attribute cache.
type CharacteristicElem struct {
	UUID       ble.UUID
	Handle     uint16 // value handle
	Properties ble.Property
}

// CanNotify reports whether the notify capability bit is set.
func (c CharacteristicElem) CanNotify() bool {
	return c.Properties&ble.CharNotify != 0
}

// ScanType selects passive or active scanning.
type ScanType uint8

const (
	ScanPassive ScanType = iota
	ScanActive
)

// ScanFilterPolicy is the controller-level advertisement filter policy.
type ScanFilterPolicy uint8

const (
	FilterAllowAll ScanFilterPolicy = iota
	FilterAllowListOnly
)

// ScanParams configures the controller before scanning starts.
// Interval and Window are in 0.625 ms units.
type ScanParams struct {
	Type            ScanType
	OwnAddressType  AddressType
	FilterPolicy    ScanFilterPolicy
	Interval        uint16
	Window          uint16
	AllowDuplicates bool // duplicate filtering disabled
}
