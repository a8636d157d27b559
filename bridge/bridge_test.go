package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
	"github.com/srg/envbridge/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	targetName = "LYWSD03MMC"
	serviceStr = "ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"
	charStr    = "ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6"

	testIface  radio.InterfaceID = 1
	testConn   radio.ConnID      = 7
	charHandle uint16            = 0x0036
)

var (
	serviceUUID = ble.MustParse(serviceStr)
	charUUID    = ble.MustParse(charStr)
	serviceRng  = radio.HandleRange{Start: 0x0030, End: 0x003F}
	peer        = testutils.NewAdvertisementBuilder().WithName(targetName).WithAddress("A4:C1:38:5E:44:12")
)

// fakeReadings hands out queued readings one per TryReceive.
type fakeReadings struct {
	queue []sensor.Reading
}

func (f *fakeReadings) TryReceive() (sensor.Reading, bool) {
	if len(f.queue) == 0 {
		return sensor.Reading{}, false
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r, true
}

// recordingPublisher remembers every reading it is handed.
type recordingPublisher struct {
	mu     sync.Mutex
	got    []sensor.Reading
	err    error
	closed int
}

func (p *recordingPublisher) Publish(r sensor.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, r)
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
}

func (p *recordingPublisher) readings() []sensor.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sensor.Reading(nil), p.got...)
}

func (p *recordingPublisher) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// recordingLabel stores the last text; busy makes TrySet fail.
type recordingLabel struct {
	mu   sync.Mutex
	text string
	busy bool
	sets int
}

func (l *recordingLabel) TrySet(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false
	}
	l.text = text
	l.sets++
	return true
}

func (l *recordingLabel) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}

type BridgeSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	stack     *testutils.MockStack
	publisher *recordingPublisher
	label     *recordingLabel
	status    *StatusGroup
}

func (suite *BridgeSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.stack = testutils.NewMockStack()
	suite.stack.On("CountAttributes", testIface, testConn, serviceRng).Return(3, nil).Maybe()
	suite.stack.On("CharacteristicsByUUID", testIface, testConn, serviceRng, mock.Anything).Return([]radio.CharacteristicElem{
		{UUID: charUUID, Handle: charHandle, Properties: ble.CharRead | ble.CharNotify},
	}, nil).Maybe()
	suite.publisher = &recordingPublisher{}
	suite.label = &recordingLabel{}
	suite.status = NewStatusGroup()
}

func (suite *BridgeSuite) options() *BridgeOptions {
	return &BridgeOptions{
		Stack: suite.stack,
		Central: central.Config{
			DeviceName:         targetName,
			ServiceUUID:        serviceStr,
			CharacteristicUUID: charStr,
			Scan: radio.ScanParams{
				Type:     radio.ScanActive,
				Interval: 0x50,
				Window:   0x30,
			},
			ScanDuration:       30 * time.Second,
			LocalMTU:           500,
			RescanOnDisconnect: true,
		},
		Publisher:    suite.publisher,
		Status:       suite.status,
		Label:        suite.label,
		PollInterval: 5 * time.Millisecond,
		Logger:       suite.helper.Logger,
	}
}

func (suite *BridgeSuite) newLoop(readings ...sensor.Reading) *loop {
	return &loop{
		name:      targetName,
		readings:  &fakeReadings{queue: readings},
		publisher: suite.publisher,
		status:    suite.status,
		label:     suite.label,
		interval:  time.Millisecond,
		logger:    suite.helper.Logger,
	}
}

// stream drives the dispatcher from registration to a subscribed notification.
func (suite *BridgeSuite) stream(d *central.Dispatcher) {
	d.HandleGATT(testIface, radio.Registered{AppID: 0, Status: radio.StatusOK})
	d.HandleGAP(radio.ScanParamsSet{Status: radio.StatusOK})
	d.HandleGAP(radio.ScanStarted{Status: radio.StatusOK})
	d.HandleGAP(peer.ScanResult())
	d.HandleGATT(testIface, radio.Connected{Conn: testConn, Addr: peer.PeerAddress()})
	d.HandleGATT(testIface, radio.Opened{Conn: testConn, Addr: peer.PeerAddress(), Status: radio.StatusOK, MTU: 23})
	d.HandleGATT(testIface, radio.MTUConfigured{Conn: testConn, Status: radio.StatusOK, MTU: 247})
	d.HandleGATT(testIface, radio.ServiceDiscoveryComplete{Conn: testConn, Status: radio.StatusOK})
	d.HandleGATT(testIface, radio.SearchResult{Conn: testConn, UUID: serviceUUID, Range: serviceRng})
	d.HandleGATT(testIface, radio.SearchComplete{Conn: testConn, Status: radio.StatusOK})
	d.HandleGATT(testIface, radio.NotifyRegistered{Status: radio.StatusOK, Handle: charHandle})
}

func (suite *BridgeSuite) notify(d *central.Dispatcher, value []byte) {
	d.HandleGATT(testIface, radio.Notification{
		Conn: testConn, Addr: peer.PeerAddress(), Handle: charHandle, Value: value, IsNotify: true,
	})
}

func (suite *BridgeSuite) TestStepPublishesLatestReading() {
	// GOAL: Each iteration forwards at most one pending reading and refreshes the label
	//
	// TEST SCENARIO: One reading queued, LinkUp|BrokerConnected → published once, label shows both flags and values

	l := suite.newLoop(sensor.Reading{Temperature: 2.7, Humidity: 50})

	l.step(LinkUp | BrokerConnected)

	suite.Equal([]sensor.Reading{{Temperature: 2.7, Humidity: 50}}, suite.publisher.readings())
	suite.Equal(uint64(1), l.published.Load())
	suite.Equal(RenderLabel(targetName, true, true, sensor.Reading{Temperature: 2.7, Humidity: 50}), suite.label.Text())

	l.step(LinkUp | BrokerConnected)
	suite.Len(suite.publisher.readings(), 1, "no new reading MUST mean no publish")

	last, ok := l.lastReading()
	suite.True(ok)
	suite.Equal(2.7, last.Temperature)
}

func (suite *BridgeSuite) TestStepNetworkFlagIsSticky() {
	// GOAL: Network flag follows LinkUp/LinkFailed transitions, broker flag follows its bit
	//
	// TEST SCENARIO: LinkUp → 1; no bits → still 1; LinkFailed → 0

	l := suite.newLoop()

	l.step(LinkUp | BrokerConnected)
	suite.True(l.network)
	suite.True(l.broker)

	l.step(0)
	suite.True(l.network, "network MUST stay up until LinkFailed")
	suite.False(l.broker)

	l.step(LinkFailed)
	suite.False(l.network)
	suite.Contains(suite.label.Text(), "Network: 0, MQTT: 0")
}

func (suite *BridgeSuite) TestStepSkipsBusyLabel() {
	suite.label.busy = true
	l := suite.newLoop(sensor.Reading{Temperature: 1, Humidity: 1})

	l.step(LinkUp)

	suite.Len(suite.publisher.readings(), 1, "a busy label MUST NOT hold back publishing")
	suite.Equal(0, suite.label.sets)
}

func (suite *BridgeSuite) TestStepLogsPublishFailure() {
	suite.publisher.err = errors.New("broker gone")
	l := suite.newLoop(sensor.Reading{Temperature: 1, Humidity: 1})

	l.step(LinkUp)

	suite.Equal(uint64(0), l.published.Load())
	suite.True(suite.helper.Logged(logrus.WarnLevel, "Failed to publish reading"))
}

func (suite *BridgeSuite) TestOptionValidation() {
	run := func(opts *BridgeOptions) error {
		_, err := RunDeviceBridge(context.Background(), opts, nil, func(Bridge) (struct{}, error) {
			return struct{}{}, nil
		})
		return err
	}

	suite.ErrorContains(run(nil), "options are required")

	opts := suite.options()
	opts.Stack = nil
	suite.ErrorContains(run(opts), "BLE stack is required")

	opts = suite.options()
	opts.Publisher = nil
	suite.ErrorContains(run(opts), "publisher is required")

	opts = suite.options()
	opts.Central.ServiceUUID = "not-a-uuid"
	suite.Error(run(opts))
	suite.Equal(1, suite.publisher.closeCount(), "publisher MUST be closed when the bridge cannot start")
}

func (suite *BridgeSuite) TestStartFailureReportsProgress() {
	suite.stack.Override("RegisterApp").On("RegisterApp", mock.Anything).Return(radio.ErrBluetoothOff)

	var phases []string
	_, err := RunDeviceBridge(context.Background(), suite.options(), func(p string) { phases = append(phases, p) },
		func(Bridge) (struct{}, error) {
			suite.Fail("callback MUST NOT run when registration fails")
			return struct{}{}, nil
		})

	suite.ErrorIs(err, radio.ErrBluetoothOff)
	suite.Equal([]string{"Starting", "Failed"}, phases)
	suite.Equal(1, suite.publisher.closeCount())
}

func (suite *BridgeSuite) TestNotificationReachesPublisher() {
	// GOAL: A notification on the subscribed characteristic ends up at the publisher and on the label
	//
	// TEST SCENARIO: Drive the session to Streaming, notify 0x010E/50 → 2.7 degC / 50 %RH published, label updated

	suite.status.Set(LinkUp | BrokerConnected)

	var phases []string
	published, err := RunDeviceBridge(context.Background(), suite.options(), func(p string) { phases = append(phases, p) },
		func(b Bridge) (uint64, error) {
			suite.stream(b.Central().Dispatcher())
			suite.Require().Equal(central.Streaming, b.State())

			suite.notify(b.Central().Dispatcher(), []byte{0x0E, 0x01, 0x32})
			suite.Require().Eventually(func() bool { return b.Published() == 1 }, time.Second, 5*time.Millisecond,
				"reading MUST be published")

			last, ok := b.Last()
			suite.True(ok)
			suite.Equal(sensor.Reading{Temperature: 2.7, Humidity: 50}, last)
			suite.Equal(LinkUp|BrokerConnected, b.Status())
			return b.Published(), nil
		})

	suite.Require().NoError(err)
	suite.Equal(uint64(1), published)
	suite.Equal([]string{"Starting", "Running"}, phases)
	suite.Equal([]sensor.Reading{{Temperature: 2.7, Humidity: 50}}, suite.publisher.readings())
	suite.Eventually(func() bool {
		return suite.label.Text() == "LYWSD03MMC bridge\nNetwork: 1, MQTT: 1\nTemperature: 2.7 degC\nHumidity: 50 %RH\n"
	}, time.Second, 5*time.Millisecond)
	suite.Equal(1, suite.publisher.closeCount(), "publisher MUST be closed when the bridge stops")
	suite.stack.AssertCalled(suite.T(), "RegisterForNotify", testIface, peer.PeerAddress(), charHandle)
}

func (suite *BridgeSuite) TestOnlyLatestReadingIsPublished() {
	// GOAL: A slow consumer sees the newest reading, older ones are overwritten
	//
	// TEST SCENARIO: Long poll interval, two notifications before the loop wakes → only the second is published

	opts := suite.options()
	opts.PollInterval = time.Hour

	_, err := RunDeviceBridge(context.Background(), opts, nil, func(b Bridge) (struct{}, error) {
		d := b.Central().Dispatcher()
		suite.stream(d)
		suite.notify(d, []byte{0x0E, 0x01, 0x32})
		suite.notify(d, []byte{0x18, 0x01, 0x33})

		suite.status.Set(LinkUp)
		suite.Require().Eventually(func() bool { return b.Published() == 1 }, time.Second, 5*time.Millisecond)
		return struct{}{}, nil
	})

	suite.Require().NoError(err)
	suite.Equal([]sensor.Reading{{Temperature: 2.8, Humidity: 51}}, suite.publisher.readings())
}

func (suite *BridgeSuite) TestWaitReturnsOnContextCancel() {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := RunDeviceBridge(ctx, suite.options(), nil, func(b Bridge) (struct{}, error) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		return struct{}{}, b.Wait()
	})

	suite.NoError(err, "Wait MUST report no error on a clean shutdown")
}

func (suite *BridgeSuite) TestStackFailureStopsBridge() {
	// GOAL: A dying event delivery goroutine surfaces through Wait
	//
	// TEST SCENARIO: Stack.Run fails → Wait returns the wrapped error

	failing := &failingStack{MockStack: suite.stack, err: errors.New("adapter vanished")}
	opts := suite.options()
	opts.Stack = failing

	_, err := RunDeviceBridge(context.Background(), opts, nil, func(b Bridge) (struct{}, error) {
		return struct{}{}, b.Wait()
	})

	suite.Require().Error(err)
	suite.ErrorContains(err, "adapter vanished")
	suite.True(suite.helper.Logged(logrus.ErrorLevel, "BLE event delivery stopped"))
}

// failingStack fails Run immediately.
type failingStack struct {
	*testutils.MockStack
	err error
}

func (s *failingStack) Run(context.Context, radio.EventSink) error {
	return s.err
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}
