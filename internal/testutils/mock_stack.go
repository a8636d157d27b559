package testutils

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/radio"
	"github.com/stretchr/testify/mock"
)

// MockStack is a testify mock of radio.Stack. Tests drive events into the
// code under test directly and assert on the requests recorded here.
type MockStack struct {
	mock.Mock
}

// NewMockStack returns a mock on which every request succeeds and the
// synchronous cache queries return nothing. Override with On(...) before use,
// or use ExpectedCalls manipulation for stricter tests.
func NewMockStack() *MockStack {
	m := &MockStack{}
	m.On("ConfigureScan", mock.Anything).Return(nil).Maybe()
	m.On("StartScan", mock.Anything).Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Open", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Close", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RequestMTU", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SearchService", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RegisterForNotify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RegisterApp", mock.Anything).Return(nil).Maybe()
	m.On("SetLocalMTU", mock.Anything).Return(nil).Maybe()
	return m
}

// Override drops the default expectation for method so a test can install its own.
func (m *MockStack) Override(method string) *MockStack {
	kept := m.ExpectedCalls[:0]
	for _, call := range m.ExpectedCalls {
		if call.Method != method {
			kept = append(kept, call)
		}
	}
	m.ExpectedCalls = kept
	return m
}

func (m *MockStack) ConfigureScan(params radio.ScanParams) error {
	return m.Called(params).Error(0)
}

func (m *MockStack) StartScan(d time.Duration) error {
	return m.Called(d).Error(0)
}

func (m *MockStack) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockStack) Open(iface radio.InterfaceID, addr radio.PeerAddress, direct bool) error {
	return m.Called(iface, addr, direct).Error(0)
}

func (m *MockStack) Close(iface radio.InterfaceID, conn radio.ConnID) error {
	return m.Called(iface, conn).Error(0)
}

func (m *MockStack) RequestMTU(iface radio.InterfaceID, conn radio.ConnID) error {
	return m.Called(iface, conn).Error(0)
}

func (m *MockStack) SearchService(iface radio.InterfaceID, conn radio.ConnID, uuid ble.UUID) error {
	return m.Called(iface, conn, uuid).Error(0)
}

func (m *MockStack) CountAttributes(iface radio.InterfaceID, conn radio.ConnID, rng radio.HandleRange) (int, error) {
	args := m.Called(iface, conn, rng)
	return args.Int(0), args.Error(1)
}

func (m *MockStack) CharacteristicsByUUID(iface radio.InterfaceID, conn radio.ConnID, rng radio.HandleRange, uuid ble.UUID) ([]radio.CharacteristicElem, error) {
	args := m.Called(iface, conn, rng, uuid)
	var elems []radio.CharacteristicElem
	if v := args.Get(0); v != nil {
		elems = v.([]radio.CharacteristicElem)
	}
	return elems, args.Error(1)
}

func (m *MockStack) RegisterForNotify(iface radio.InterfaceID, addr radio.PeerAddress, handle uint16) error {
	return m.Called(iface, addr, handle).Error(0)
}

func (m *MockStack) RegisterApp(app radio.AppID) error {
	return m.Called(app).Error(0)
}

func (m *MockStack) SetLocalMTU(mtu int) error {
	return m.Called(mtu).Error(0)
}

// Run blocks until ctx is done; events are injected by the test.
func (m *MockStack) Run(ctx context.Context, sink radio.EventSink) error {
	<-ctx.Done()
	return ctx.Err()
}

var _ radio.Stack = (*MockStack)(nil)
