package central

import (
	"bytes"
	"fmt"

	"github.com/go-ble/ble"
)

// AD structure type of the complete local name field.
const adTypeCompleteName = 0x09

// ScanFilter accepts advertisement reports whose complete local name equals
// the target name byte for byte.
type ScanFilter struct {
	name []byte
}

// NewScanFilter builds a filter for the given device name.
func NewScanFilter(name string) ScanFilter {
	return ScanFilter{name: []byte(name)}
}

// Name returns the target device name.
func (f ScanFilter) Name() string {
	return string(f.name)
}

// Match reports whether name has exactly the target length and content.
func (f ScanFilter) Match(name []byte) bool {
	return bytes.Equal(f.name, name)
}

// ServiceFilter accepts the target primary service.
type ServiceFilter struct {
	uuid ble.UUID
}

// NewServiceFilter parses a UUID string ("ebe0ccb0-7a0a-...", or a short form).
func NewServiceFilter(s string) (ServiceFilter, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return ServiceFilter{}, fmt.Errorf("invalid service UUID %q: %w", s, err)
	}
	return ServiceFilter{uuid: u}, nil
}

// UUID returns a copy of the target UUID.
func (f ServiceFilter) UUID() ble.UUID {
	return append(ble.UUID(nil), f.uuid...)
}

// Match compares u byte-exact against the target; a 16-bit UUID never
// matches a 128-bit one.
func (f ServiceFilter) Match(u ble.UUID) bool {
	return f.uuid.Equal(u)
}

// CharacteristicFilter accepts the target notifying characteristic.
type CharacteristicFilter struct {
	uuid ble.UUID
}

// NewCharacteristicFilter parses a UUID string.
func NewCharacteristicFilter(s string) (CharacteristicFilter, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return CharacteristicFilter{}, fmt.Errorf("invalid characteristic UUID %q: %w", s, err)
	}
	return CharacteristicFilter{uuid: u}, nil
}

// UUID returns a copy of the target UUID.
func (f CharacteristicFilter) UUID() ble.UUID {
	return append(ble.UUID(nil), f.uuid...)
}

// Match compares u byte-exact against the target.
func (f CharacteristicFilter) Match(u ble.UUID) bool {
	return f.uuid.Equal(u)
}

// Registry bundles the target identifiers used by discovery.
type Registry struct {
	Device         ScanFilter
	Service        ServiceFilter
	Characteristic CharacteristicFilter
}

// NewRegistry validates and builds the target identifiers.
func NewRegistry(name, service, characteristic string) (Registry, error) {
	if name == "" {
		return Registry{}, fmt.Errorf("device name must not be empty")
	}
	svc, err := NewServiceFilter(service)
	if err != nil {
		return Registry{}, err
	}
	chr, err := NewCharacteristicFilter(characteristic)
	if err != nil {
		return Registry{}, err
	}
	return Registry{Device: NewScanFilter(name), Service: svc, Characteristic: chr}, nil
}

// CompleteLocalName walks the AD structures of an advertising payload and
// returns the complete local name field. Malformed trailing structures and
// zero-length padding end the walk.
func CompleteLocalName(adv []byte) ([]byte, bool) {
	for len(adv) > 0 {
		l := int(adv[0])
		if l == 0 || len(adv) < 1+l {
			return nil, false
		}
		if adv[1] == adTypeCompleteName {
			return adv[2 : 1+l], true
		}
		adv = adv[1+l:]
	}
	return nil, false
}
