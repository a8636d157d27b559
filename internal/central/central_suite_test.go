package central_test

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	targetName = "LYWSD03MMC"
	serviceStr = "ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"
	charStr    = "ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6"

	testIface  radio.InterfaceID = 3
	testConn   radio.ConnID      = 7
	charHandle uint16            = 0x0036
)

var (
	serviceUUID = ble.MustParse(serviceStr)
	charUUID    = ble.MustParse(charStr)
	serviceRng  = radio.HandleRange{Start: 0x0030, End: 0x003F}
	peerAddr    = testutils.NewAdvertisementBuilder().WithAddress("A4:C1:38:5E:44:12").PeerAddress()
)

// CentralSuite wires a Central to a MockStack and injects events directly
// into its dispatcher, as the backend delivery goroutine would.
type CentralSuite struct {
	suite.Suite

	Helper  *testutils.TestHelper
	Stack   *testutils.MockStack
	Central *central.Central
	Config  central.Config
}

func defaultConfig() central.Config {
	return central.Config{
		DeviceName:         targetName,
		ServiceUUID:        serviceStr,
		CharacteristicUUID: charStr,
		Scan: radio.ScanParams{
			Type:            radio.ScanActive,
			OwnAddressType:  radio.AddressPublic,
			FilterPolicy:    radio.FilterAllowAll,
			Interval:        0x50,
			Window:          0x30,
			AllowDuplicates: true,
		},
		ScanDuration:       30 * time.Second,
		AppID:              0,
		LocalMTU:           500,
		RescanOnDisconnect: true,
	}
}

func (s *CentralSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Stack = testutils.NewMockStack()
	s.Stack.On("CountAttributes", testIface, testConn, serviceRng).Return(3, nil).Maybe()
	s.Stack.On("CharacteristicsByUUID", testIface, testConn, serviceRng, mock.Anything).Return([]radio.CharacteristicElem{
		{UUID: charUUID, Handle: charHandle, Properties: ble.CharRead | ble.CharNotify},
	}, nil).Maybe()
	s.Config = defaultConfig()
	s.Build()
}

// Build (re)creates the Central from s.Config.
func (s *CentralSuite) Build() {
	c, err := central.New(s.Stack, s.Config, nil, s.Helper.Logger)
	s.Require().NoError(err, "central MUST build from a valid config")
	s.Central = c
}

func (s *CentralSuite) GAP(ev radio.GAPEvent) {
	s.Central.Dispatcher().HandleGAP(ev)
}

func (s *CentralSuite) GATT(ev radio.GATTEvent) {
	s.Central.Dispatcher().HandleGATT(testIface, ev)
}

func (s *CentralSuite) Advertise(name string) {
	s.GAP(testutils.NewAdvertisementBuilder().WithName(name).WithAddress(peerAddr.String()).ScanResult())
}

// The steps below each advance the pipeline by one stage.

func (s *CentralSuite) ToScanning() {
	s.GATT(radio.Registered{AppID: s.Config.AppID, Status: radio.StatusOK})
	s.GAP(radio.ScanParamsSet{Status: radio.StatusOK})
	s.GAP(radio.ScanStarted{Status: radio.StatusOK})
}

func (s *CentralSuite) ToConnecting() {
	s.ToScanning()
	s.Advertise(targetName)
}

func (s *CentralSuite) ToNegotiatingMtu() {
	s.ToConnecting()
	s.GATT(radio.Connected{Conn: testConn, Addr: peerAddr})
	s.GATT(radio.Opened{Conn: testConn, Addr: peerAddr, Status: radio.StatusOK, MTU: 23})
	s.GATT(radio.MTUConfigured{Conn: testConn, Status: radio.StatusOK, MTU: 500})
}

func (s *CentralSuite) ToDiscoveringService() {
	s.ToNegotiatingMtu()
	s.GATT(radio.ServiceDiscoveryComplete{Conn: testConn, Status: radio.StatusOK})
	s.GATT(radio.SearchResult{Conn: testConn, UUID: serviceUUID, Range: serviceRng})
}

func (s *CentralSuite) ToSubscribingNotify() {
	s.ToDiscoveringService()
	s.GATT(radio.SearchComplete{Conn: testConn, Status: radio.StatusOK})
}

func (s *CentralSuite) ToStreaming() {
	s.ToSubscribingNotify()
	s.GATT(radio.NotifyRegistered{Status: radio.StatusOK, Handle: charHandle})
}

func (s *CentralSuite) Notify(value []byte) {
	s.GATT(radio.Notification{Conn: testConn, Addr: peerAddr, Handle: charHandle, Value: value, IsNotify: true})
}
