package central

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/handoff"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
)

// ScanControl is the part of the scanner the session drives.
type ScanControl interface {
	Configure() error
	Start() error
}

// SessionOptions holds the session policy knobs.
type SessionOptions struct {
	// RescanOnDisconnect restarts scanning after every link loss.
	RescanOnDisconnect bool
	// DiscoveryTimeout closes a link that has not reached Streaming in time. 0 disables it.
	DiscoveryTimeout time.Duration
}

// LinkInfo is a snapshot of the per-link session fields.
type LinkInfo struct {
	Linked       bool
	Conn         radio.ConnID
	Addr         radio.PeerAddress
	Range        radio.HandleRange
	CharHandle   uint16
	ServiceFound bool
	Connecting   bool
	Epoch        uint64
}

// Session is the GATT client profile driving one peripheral from connect to
// streaming notifications.
//
// All methods except State and Readings must be called from the event
// delivery context.
type Session struct {
	gatt     radio.GATTClient
	scanner  ScanControl
	registry Registry
	decoder  sensor.Decoder
	opts     SessionOptions
	logger   *logrus.Logger
	readings *handoff.RingChannel[sensor.Reading]

	state atomic.Int32
	epoch atomic.Uint64

	iface        radio.InterfaceID
	registered   bool
	connecting   bool
	target       radio.PeerAddress // address of the outstanding Open
	linked       bool
	serviceFound bool
	conn         radio.ConnID
	addr         radio.PeerAddress
	rng          radio.HandleRange
	charHandle   uint16
	watchdog     *time.Timer
}

// NewSession creates a session in Idle.
func NewSession(gatt radio.GATTClient, scanner ScanControl, registry Registry, decoder sensor.Decoder, opts SessionOptions, logger *logrus.Logger) *Session {
	return &Session{
		gatt:     gatt,
		scanner:  scanner,
		registry: registry,
		decoder:  decoder,
		opts:     opts,
		logger:   logger,
		readings: handoff.NewRingChannel[sensor.Reading](1),
		iface:    radio.InterfaceNone,
	}
}

// State returns the current state. Safe from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Readings returns the hand-off channel consumed by the polling loop.
func (s *Session) Readings() *handoff.RingChannel[sensor.Reading] {
	return s.readings
}

// Connecting reports whether a connection attempt or link is outstanding.
func (s *Session) Connecting() bool {
	return s.connecting
}

// Link returns a snapshot of the per-link fields.
func (s *Session) Link() LinkInfo {
	return LinkInfo{
		Linked:       s.linked,
		Conn:         s.conn,
		Addr:         s.addr,
		Range:        s.rng,
		CharHandle:   s.charHandle,
		ServiceFound: s.serviceFound,
		Connecting:   s.connecting,
		Epoch:        s.epoch.Load(),
	}
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   next.String(),
		}).Debug("Session state changed")
	}
}

func (s *Session) log() *logrus.Entry {
	fields := logrus.Fields{"state": s.State().String()}
	if s.linked {
		fields["conn_id"] = s.conn
		fields["addr"] = s.addr.String()
	}
	return s.logger.WithFields(fields)
}

// Open starts a connection attempt to addr unless one is already outstanding.
func (s *Session) Open(addr radio.PeerAddress) {
	if s.connecting {
		s.log().WithField("target", addr.String()).Debug("Open ignored, connection attempt in flight")
		return
	}

	s.connecting = true
	s.target = addr
	s.setState(Connecting)
	s.log().WithField("target", addr.String()).Info("Opening connection")

	if err := s.gatt.Open(s.iface, addr, true); err != nil {
		s.log().WithFields(logrus.Fields{
			"target": addr.String(),
			"error":  err,
		}).Error("Open rejected")
		s.connecting = false
		s.target = radio.PeerAddress{}
		s.setState(Idle)
		s.rescan()
	}
}

// HandleGATT advances the state machine by one event.
func (s *Session) HandleGATT(iface radio.InterfaceID, ev radio.GATTEvent) {
	switch e := ev.(type) {
	case radio.Registered:
		s.onRegistered(iface, e)
	case radio.Connected:
		s.onConnected(e)
	case radio.Opened:
		s.onOpened(e)
	case radio.MTUConfigured:
		if s.stale(e.Conn) {
			return
		}
		s.log().WithFields(logrus.Fields{
			"status": e.Status.String(),
			"mtu":    e.MTU,
		}).Info("MTU exchange finished")
	case radio.ServiceDiscoveryComplete:
		s.onDiscoveryComplete(e)
	case radio.SearchResult:
		s.onSearchResult(e)
	case radio.SearchComplete:
		s.onSearchComplete(e)
	case radio.NotifyRegistered:
		s.onNotifyRegistered(e)
	case radio.Notification:
		s.onNotification(e)
	case radio.Disconnected:
		s.onDisconnected(e)
	default:
		s.log().WithField("event", ev.EventName()).Debug("Unhandled GATT event")
	}
}

func (s *Session) stale(conn radio.ConnID) bool {
	if s.linked && conn == s.conn {
		return false
	}
	s.log().WithField("event_conn_id", conn).Debug("Ignoring event for another link")
	return true
}

func (s *Session) onRegistered(iface radio.InterfaceID, e radio.Registered) {
	s.iface = iface
	s.registered = true
	s.logger.WithFields(logrus.Fields{
		"app_id": e.AppID,
		"iface":  iface,
	}).Info("Client profile registered")

	if err := s.scanner.Configure(); err != nil {
		return
	}
	s.setState(Scanning)
}

func (s *Session) onConnected(e radio.Connected) {
	if s.linked {
		s.log().WithField("event_conn_id", e.Conn).Warn("Second link reported, ignoring")
		return
	}
	if !s.connecting {
		s.log().WithFields(logrus.Fields{
			"event_conn_id": e.Conn,
			"addr":          e.Addr.String(),
		}).Warn("Unsolicited link reported, ignoring")
		return
	}

	s.linked = true
	s.connecting = true
	s.conn = e.Conn
	s.addr = e.Addr
	s.epoch.Add(1)
	s.setState(NegotiatingMtu)
	s.log().Info("Connected")
	s.armWatchdog()

	if err := s.gatt.RequestMTU(s.iface, s.conn); err != nil {
		s.log().WithError(err).Error("MTU request rejected")
	}
}

func (s *Session) onOpened(e radio.Opened) {
	if e.Status != radio.StatusOK {
		s.log().WithFields(logrus.Fields{
			"target": e.Addr.String(),
			"status": e.Status.String(),
		}).Error("Connection open failed")
		return
	}
	if s.stale(e.Conn) {
		return
	}
	s.log().WithField("mtu", e.MTU).Debug("Connection opened")
}

func (s *Session) onDiscoveryComplete(e radio.ServiceDiscoveryComplete) {
	if s.stale(e.Conn) {
		return
	}
	if e.Status != radio.StatusOK {
		s.log().WithField("status", e.Status.String()).Error("Attribute discovery failed")
		return
	}
	if s.State() != NegotiatingMtu {
		s.log().Debug("Attribute discovery complete outside negotiation, ignoring")
		return
	}

	s.setState(DiscoveringService)
	if err := s.gatt.SearchService(s.iface, s.conn, s.registry.Service.UUID()); err != nil {
		s.log().WithError(err).Error("Service search rejected")
	}
}

// searching reports whether service search events are expected. Results
// are also taken while still negotiating, in case the stack reports the
// search before its own discovery-complete event.
func (s *Session) searching() bool {
	st := s.State()
	return st == NegotiatingMtu || st == DiscoveringService
}

func (s *Session) onSearchResult(e radio.SearchResult) {
	if s.stale(e.Conn) || !s.searching() {
		return
	}
	if !s.registry.Service.Match(e.UUID) {
		s.log().WithField("uuid", e.UUID.String()).Debug("Skipping service")
		return
	}

	s.rng = e.Range
	s.serviceFound = true
	s.setState(DiscoveringService)
	s.log().WithFields(logrus.Fields{
		"uuid":  e.UUID.String(),
		"range": e.Range.String(),
	}).Info("Target service found")
}

func (s *Session) onSearchComplete(e radio.SearchComplete) {
	if s.stale(e.Conn) || !s.searching() {
		return
	}
	if e.Status != radio.StatusOK {
		s.log().WithField("status", e.Status.String()).Error("Service search failed")
		return
	}
	if !s.serviceFound {
		s.log().WithField("uuid", s.registry.Service.UUID().String()).Warn("Target service not found")
		return
	}

	s.setState(DiscoveringCharacteristic)

	count, err := s.gatt.CountAttributes(s.iface, s.conn, s.rng)
	if err != nil {
		s.log().WithError(err).Error("Attribute count failed")
		return
	}
	if count == 0 {
		s.log().WithField("range", s.rng.String()).Warn("Service has no characteristics")
		return
	}

	want := s.registry.Characteristic.UUID()
	chars, err := s.gatt.CharacteristicsByUUID(s.iface, s.conn, s.rng, want)
	if err != nil {
		s.log().WithError(err).Error("Characteristic lookup failed")
		return
	}
	if len(chars) == 0 {
		s.log().WithField("uuid", want.String()).Warn("Target characteristic not found")
		return
	}

	first := chars[0]
	if len(first.UUID) > 0 && !s.registry.Characteristic.Match(first.UUID) {
		s.log().WithField("uuid", first.UUID.String()).Warn("Characteristic lookup returned another UUID")
		return
	}
	if !first.CanNotify() {
		s.log().WithFields(logrus.Fields{
			"handle":     first.Handle,
			"properties": first.Properties,
		}).Warn("Target characteristic cannot notify")
		return
	}

	s.charHandle = first.Handle
	s.setState(SubscribingNotify)
	if err := s.gatt.RegisterForNotify(s.iface, s.addr, s.charHandle); err != nil {
		s.log().WithFields(logrus.Fields{
			"handle": s.charHandle,
			"error":  err,
		}).Error("Notification registration rejected")
	}
}

func (s *Session) onNotifyRegistered(e radio.NotifyRegistered) {
	if !s.linked || s.State() != SubscribingNotify {
		return
	}
	if e.Status != radio.StatusOK {
		s.log().WithField("status", e.Status.String()).Error("Notification registration failed")
		return
	}
	if e.Handle != s.charHandle {
		s.log().WithField("handle", e.Handle).Debug("Registration for another handle, ignoring")
		return
	}

	s.stopWatchdog()
	s.setState(Streaming)
	s.log().WithField("handle", e.Handle).Info("Streaming notifications")
}

func (s *Session) onNotification(e radio.Notification) {
	if s.stale(e.Conn) {
		return
	}
	if st := s.State(); st != SubscribingNotify && st != Streaming {
		return
	}
	if e.Handle != s.charHandle {
		return
	}
	if !e.IsNotify {
		s.log().WithField("handle", e.Handle).Debug("Ignoring indication")
		return
	}

	reading, err := s.decoder.Decode(e.Value)
	if err != nil {
		s.log().WithFields(logrus.Fields{
			"len":   len(e.Value),
			"error": err,
		}).Warn("Dropping undecodable notification")
		return
	}

	s.readings.ForceSend(reading)
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log().WithFields(logrus.Fields{
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
		}).Debug("Reading received")
	}
}

func (s *Session) onDisconnected(e radio.Disconnected) {
	if s.linked && e.Conn != s.conn {
		s.log().WithField("event_conn_id", e.Conn).Debug("Ignoring disconnect of another link")
		return
	}
	if !s.linked && s.connecting && !s.attemptFailed(e) {
		s.log().WithFields(logrus.Fields{
			"event_conn_id": e.Conn,
			"addr":          e.Addr.String(),
		}).Debug("Ignoring disconnect unrelated to the pending open")
		return
	}

	prev := s.State()
	s.log().WithFields(logrus.Fields{
		"reason": e.Reason,
		"from":   prev.String(),
	}).Warn("Disconnected")

	s.stopWatchdog()
	s.linked = false
	s.connecting = false
	s.target = radio.PeerAddress{}
	s.serviceFound = false
	s.conn = 0
	s.addr = radio.PeerAddress{}
	s.rng = radio.HandleRange{}
	s.charHandle = 0
	s.epoch.Add(1)

	if prev == Scanning {
		// no link existed and the scan is still running
		return
	}
	s.setState(Idle)
	s.rescan()
}

// attemptFailed reports whether e ends the outstanding Open: no link id and
// either no address or the address being dialed.
func (s *Session) attemptFailed(e radio.Disconnected) bool {
	return e.Conn == 0 && (e.Addr.IsZero() || e.Addr.Addr == s.target.Addr)
}

func (s *Session) rescan() {
	if !s.opts.RescanOnDisconnect || !s.registered {
		return
	}
	if err := s.scanner.Start(); err != nil {
		return
	}
	s.setState(Scanning)
}

func (s *Session) armWatchdog() {
	if s.opts.DiscoveryTimeout <= 0 {
		return
	}
	epoch := s.epoch.Load()
	iface, conn := s.iface, s.conn
	s.watchdog = time.AfterFunc(s.opts.DiscoveryTimeout, func() {
		if s.epoch.Load() != epoch || s.State() == Streaming {
			return
		}
		s.logger.WithFields(logrus.Fields{
			"conn_id": conn,
			"timeout": s.opts.DiscoveryTimeout,
		}).Warn("Discovery timed out, closing link")
		if err := s.gatt.Close(iface, conn); err != nil {
			s.logger.WithError(err).Error("Close rejected")
		}
	})
}

func (s *Session) stopWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}
