package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/adv"
	"github.com/srg/envbridge/internal/radio"
)

// AdvertisementBuilder builds advertisement reports for scanner tests, either
// as a radio.ScanResult carrying raw AD structures or as a ble.Advertisement
// for backend tests.
type AdvertisementBuilder struct {
	name      *string
	shortName *string
	address   string
	addrType  radio.AddressType
	rssi      int
	services  []string
	manufID   uint16
	manufData []byte
	raw       []byte
	rawSet    bool
}

// NewAdvertisementBuilder creates a builder with a fixed address and -50 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		address: "A4:C1:38:00:00:01",
		rssi:    -50,
	}
}

// WithName sets the complete local name field.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = &name
	return b
}

// WithShortName sets the shortened local name field.
func (b *AdvertisementBuilder) WithShortName(name string) *AdvertisementBuilder {
	b.shortName = &name
	return b
}

// WithAddress sets the peer address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithAddressType sets the peer address type.
func (b *AdvertisementBuilder) WithAddressType(t radio.AddressType) *AdvertisementBuilder {
	b.addrType = t
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds complete service UUID lists.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithManufacturerData sets manufacturer specific data.
func (b *AdvertisementBuilder) WithManufacturerData(id uint16, data []byte) *AdvertisementBuilder {
	b.manufID = id
	b.manufData = data
	return b
}

// WithRawData replaces the generated AD payload verbatim.
func (b *AdvertisementBuilder) WithRawData(raw []byte) *AdvertisementBuilder {
	b.raw = raw
	b.rawSet = true
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name      *string  `json:"name"`
		ShortName *string  `json:"shortName"`
		Address   *string  `json:"address"`
		RSSI      *int     `json:"rssi"`
		Services  []string `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.ShortName != nil {
		b.WithShortName(*data.ShortName)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	b.services = append(b.services, data.Services...)
	return b
}

// Payload returns the AD structures. Panics when the fields do not fit a
// legacy advertising packet.
func (b *AdvertisementBuilder) Payload() []byte {
	if b.rawSet {
		return append([]byte(nil), b.raw...)
	}

	fields := []adv.Field{adv.Flags(adv.FlagGeneralDiscoverable | adv.FlagLEOnly)}
	if b.shortName != nil {
		fields = append(fields, adv.ShortName(*b.shortName))
	}
	if b.name != nil {
		fields = append(fields, adv.CompleteName(*b.name))
	}
	for _, s := range b.services {
		fields = append(fields, adv.AllUUID(ble.MustParse(s)))
	}
	if b.manufData != nil {
		fields = append(fields, adv.ManufacturerData(b.manufID, b.manufData))
	}

	p, err := adv.NewPacket(fields...)
	if err != nil {
		panic(fmt.Sprintf("advertisement does not fit: %v", err))
	}
	return p.Bytes()
}

// PeerAddress returns the configured address.
func (b *AdvertisementBuilder) PeerAddress() radio.PeerAddress {
	addr, err := radio.ParsePeerAddress(b.address, b.addrType)
	if err != nil {
		panic(err)
	}
	return addr
}

// ScanResult builds an InquiryResult report.
func (b *AdvertisementBuilder) ScanResult() radio.ScanResult {
	return radio.ScanResult{
		Kind:    radio.InquiryResult,
		Addr:    b.PeerAddress(),
		RSSI:    b.rssi,
		AdvData: b.Payload(),
	}
}

// Advertisement builds a ble.Advertisement exposing the same payload through
// Data(), as the Linux HCI backend does.
func (b *AdvertisementBuilder) Advertisement() *FakeAdvertisement {
	fa := &FakeAdvertisement{
		addr:    ble.NewAddr(b.address),
		rssi:    b.rssi,
		data:    b.Payload(),
		mfData:  b.manufData,
		connect: true,
	}
	for _, s := range b.services {
		fa.uuids = append(fa.uuids, ble.MustParse(s))
	}
	if b.name != nil {
		fa.name = *b.name
	} else if b.shortName != nil {
		fa.name = *b.shortName
	}
	return fa
}

// FakeAdvertisement is a static ble.Advertisement.
type FakeAdvertisement struct {
	name    string
	addr    ble.Addr
	rssi    int
	data    []byte
	sr      []byte
	uuids   []ble.UUID
	mfData  []byte
	connect bool
}

// WithoutRawData hides Data/ScanResponse so consumers fall back to LocalName.
func (a *FakeAdvertisement) WithoutRawData() ble.Advertisement {
	return nameOnlyAdvertisement{a}
}

func (a *FakeAdvertisement) LocalName() string              { return a.name }
func (a *FakeAdvertisement) ManufacturerData() []byte       { return a.mfData }
func (a *FakeAdvertisement) ServiceData() []ble.ServiceData { return nil }
func (a *FakeAdvertisement) Services() []ble.UUID           { return a.uuids }
func (a *FakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a *FakeAdvertisement) TxPowerLevel() int              { return 127 }
func (a *FakeAdvertisement) Connectable() bool              { return a.connect }
func (a *FakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a *FakeAdvertisement) RSSI() int                      { return a.rssi }
func (a *FakeAdvertisement) Addr() ble.Addr                 { return a.addr }
func (a *FakeAdvertisement) Data() []byte                   { return a.data }
func (a *FakeAdvertisement) ScanResponse() []byte           { return a.sr }

// nameOnlyAdvertisement narrows FakeAdvertisement to the ble.Advertisement
// method set, as on platforms that do not expose raw AD bytes.
type nameOnlyAdvertisement struct {
	a *FakeAdvertisement
}

func (n nameOnlyAdvertisement) LocalName() string              { return n.a.LocalName() }
func (n nameOnlyAdvertisement) ManufacturerData() []byte       { return n.a.ManufacturerData() }
func (n nameOnlyAdvertisement) ServiceData() []ble.ServiceData { return nil }
func (n nameOnlyAdvertisement) Services() []ble.UUID           { return n.a.Services() }
func (n nameOnlyAdvertisement) OverflowService() []ble.UUID    { return nil }
func (n nameOnlyAdvertisement) TxPowerLevel() int              { return n.a.TxPowerLevel() }
func (n nameOnlyAdvertisement) Connectable() bool              { return n.a.Connectable() }
func (n nameOnlyAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (n nameOnlyAdvertisement) RSSI() int                      { return n.a.RSSI() }
func (n nameOnlyAdvertisement) Addr() ble.Addr                 { return n.a.Addr() }
