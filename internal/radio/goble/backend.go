package goble

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/adv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/groutine"
	"github.com/srg/envbridge/internal/radio"
)

const (
	defaultATTMTU = 23
	maxATTMTU     = 517
)

// Options tunes the backend.
type Options struct {
	DialTimeout time.Duration `default:"10s"`
	OpQueueSize int           `default:"8"` // pending GATT requests per link
}

// Backend is a radio.Stack driven by a go-ble device.
type Backend struct {
	opts   Options
	logger *logrus.Logger

	queue   *eventQueue
	running atomic.Bool
	group   *groutine.Group

	mu         sync.Mutex
	radio      Radio
	scanParams radio.ScanParams
	localMTU   int
	scanCancel context.CancelFunc
	scanSeq    uint64
	nextIface  radio.InterfaceID
	nextConn   radio.ConnID

	apps  *hashmap.Map[radio.AppID, radio.InterfaceID]
	links *hashmap.Map[radio.ConnID, *link]
	peers *hashmap.Map[string, ble.Addr] // PeerAddress.String() -> platform address
}

var _ radio.Stack = (*Backend)(nil)

// New creates a Backend. The host controller is opened lazily by ConfigureScan.
func New(opts *Options, logger *logrus.Logger) *Backend {
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	defaults.SetDefaults(&o)
	if logger == nil {
		logger = logrus.New()
	}
	return &Backend{
		opts:     o,
		logger:   logger,
		queue:    newEventQueue(),
		group:    groutine.NewGroup(context.Background()),
		localMTU: defaultATTMTU,
		nextConn: 1,
		apps:     hashmap.New[radio.AppID, radio.InterfaceID](),
		links:    hashmap.New[radio.ConnID, *link](),
		peers:    hashmap.New[string, ble.Addr](),
	}
}

// ----------------------------
// Event delivery
// ----------------------------

func (b *Backend) postGAP(ev radio.GAPEvent) {
	b.queue.push(delivery{gap: ev})
}

func (b *Backend) postGATT(iface radio.InterfaceID, ev radio.GATTEvent) {
	b.queue.push(delivery{iface: iface, gatt: ev})
}

// Run delivers queued events to sink from the calling goroutine until ctx is
// done, then stops scanning, drops every link and releases the device.
func (b *Backend) Run(ctx context.Context, sink radio.EventSink) error {
	if !b.running.CompareAndSwap(false, true) {
		return radio.ErrAlreadyRunning
	}
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.queue.signal:
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d, ok := b.queue.pop()
				if !ok {
					break
				}
				b.deliver(sink, d)
			}
		}
	}
}

func (b *Backend) deliver(sink radio.EventSink, d delivery) {
	if d.gap != nil {
		sink.HandleGAP(d.gap)
		return
	}
	b.logger.WithFields(logrus.Fields{
		"event": d.gatt.EventName(),
		"iface": d.iface,
	}).Trace("Delivering GATT event")
	sink.HandleGATT(d.iface, d.gatt)
}

func (b *Backend) shutdown() {
	b.mu.Lock()
	if b.scanCancel != nil {
		b.scanCancel()
		b.scanCancel = nil
	}
	r := b.radio
	b.mu.Unlock()

	b.links.Range(func(_ radio.ConnID, l *link) bool {
		l.close()
		if err := l.client.CancelConnection(); err != nil {
			b.logger.WithError(err).WithField("conn_id", l.conn).Debug("Failed to cancel connection on shutdown")
		}
		return true
	})
	b.group.Stop()

	if r != nil {
		if err := r.Stop(); err != nil {
			b.logger.WithError(err).Warn("Failed to stop BLE device")
		}
	}
}

// ----------------------------
// Profile registration
// ----------------------------

// RegisterApp assigns an interface id to app and confirms with Registered.
// Registering the same app twice yields the same interface id.
func (b *Backend) RegisterApp(app radio.AppID) error {
	b.mu.Lock()
	iface, existing := b.apps.Get(app)
	if !existing {
		iface = b.nextIface
		b.nextIface++
		if b.nextIface == radio.InterfaceNone {
			b.nextIface = 0
		}
		b.apps.Set(app, iface)
	}
	b.mu.Unlock()

	b.postGATT(iface, radio.Registered{AppID: app, Status: radio.StatusOK})
	return nil
}

// SetLocalMTU sets the MTU offered by later RequestMTU calls.
func (b *Backend) SetLocalMTU(mtu int) error {
	if mtu < defaultATTMTU || mtu > maxATTMTU {
		return &radio.OpError{Op: "set_local_mtu", Err: fmt.Errorf("mtu %d outside %d..%d", mtu, defaultATTMTU, maxATTMTU)}
	}
	b.mu.Lock()
	b.localMTU = mtu
	b.mu.Unlock()
	return nil
}

// ----------------------------
// GAP
// ----------------------------

// ConfigureScan opens the device on first use with params. go-ble fixes scan
// parameters at device creation, so later calls only update duplicate filtering.
func (b *Backend) ConfigureScan(params radio.ScanParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.radio == nil {
		r, err := DeviceFactory(params, b.opts.DialTimeout)
		if err != nil {
			return &radio.OpError{Op: "configure_scan", Err: radio.NormalizeError(err)}
		}
		b.radio = r
		b.logger.WithFields(logrus.Fields{
			"interval": params.Interval,
			"window":   params.Window,
			"active":   params.Type == radio.ScanActive,
		}).Info("BLE device opened")
	} else if params != b.scanParams {
		b.logger.Debug("BLE device already open; only duplicate filtering is updated")
	}
	b.scanParams = params

	b.postGAP(radio.ScanParamsSet{Status: radio.StatusOK})
	return nil
}

// StartScan scans for d (0 = until StopScan). Expiry is reported as an
// InquiryComplete result followed by ScanStopped.
func (b *Backend) StartScan(d time.Duration) error {
	b.mu.Lock()
	if b.radio == nil {
		b.mu.Unlock()
		return &radio.OpError{Op: "start_scan", Err: radio.ErrNotInitialized}
	}
	if b.scanCancel != nil {
		b.mu.Unlock()
		return &radio.OpError{Op: "start_scan", Err: radio.ErrScanInProgress}
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if d > 0 {
		ctx, cancel = context.WithTimeout(b.group.Context(), d)
	} else {
		ctx, cancel = context.WithCancel(b.group.Context())
	}
	b.forgetPeers()
	b.scanSeq++
	seq := b.scanSeq
	b.scanCancel = cancel
	r := b.radio
	allowDup := b.scanParams.AllowDuplicates
	b.mu.Unlock()

	b.postGAP(radio.ScanStarted{Status: radio.StatusOK})

	b.group.Go("ble-scan", func(_ context.Context) {
		err := r.Scan(ctx, allowDup, b.onAdvertisement)
		expired := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		b.mu.Lock()
		if b.scanSeq == seq {
			b.scanCancel = nil
		}
		b.mu.Unlock()

		status := radio.StatusOK
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			status = radio.StatusError
			b.logger.WithError(radio.NormalizeError(err)).Error("BLE scan failed")
		}
		if expired {
			b.postGAP(radio.ScanResult{Kind: radio.InquiryComplete})
		}
		b.postGAP(radio.ScanStopped{Status: status})
	})
	return nil
}

// StopScan cancels a running scan. Without one, ScanStopped is posted directly.
func (b *Backend) StopScan() error {
	b.mu.Lock()
	cancel := b.scanCancel
	b.scanCancel = nil
	b.mu.Unlock()

	if cancel == nil {
		b.postGAP(radio.ScanStopped{Status: radio.StatusOK})
		return nil
	}
	cancel()
	return nil
}

func (b *Backend) onAdvertisement(a ble.Advertisement) {
	addr := b.peerAddress(a.Addr())
	b.postGAP(radio.ScanResult{
		Kind:    radio.InquiryResult,
		Addr:    addr,
		RSSI:    a.RSSI(),
		AdvData: advPayload(a),
	})
}

// peerAddress converts a platform address. Platforms that hide the hardware
// address (CoreBluetooth) get a stable random-type address derived from the
// identifier; the mapping is remembered for Open.
func (b *Backend) peerAddress(a ble.Addr) radio.PeerAddress {
	s := a.String()
	addr, err := radio.ParsePeerAddress(s, radio.AddressPublic)
	if err != nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		sum := h.Sum(nil)
		copy(addr.Addr[:], sum[:6])
		addr.Type = radio.AddressRandom
	}
	b.peers.Set(addr.String(), a)
	return addr
}

// forgetPeers drops addresses learned by earlier scans.
func (b *Backend) forgetPeers() {
	var stale []string
	b.peers.Range(func(k string, _ ble.Addr) bool {
		stale = append(stale, k)
		return true
	})
	for _, k := range stale {
		b.peers.Del(k)
	}
}

type rawAdvertisement interface {
	Data() []byte
	ScanResponse() []byte
}

// advPayload returns the AD structures of a report. Platforms without raw
// access get the local name re-encoded as a Complete Local Name structure.
func advPayload(a ble.Advertisement) []byte {
	if raw, ok := a.(rawAdvertisement); ok {
		data, rsp := raw.Data(), raw.ScanResponse()
		if len(data)+len(rsp) > 0 {
			out := make([]byte, 0, len(data)+len(rsp))
			out = append(out, data...)
			return append(out, rsp...)
		}
	}
	name := a.LocalName()
	if name == "" {
		return nil
	}
	p, err := adv.NewPacket(adv.CompleteName(name))
	if err != nil {
		return nil
	}
	return p.Bytes()
}

// ----------------------------
// GATT client
// ----------------------------

func (b *Backend) device() (Radio, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.radio == nil {
		return nil, radio.ErrNotInitialized
	}
	return b.radio, nil
}

func (b *Backend) link(op string, conn radio.ConnID) (*link, error) {
	l, ok := b.links.Get(conn)
	if !ok {
		return nil, &radio.OpError{Op: op, Conn: conn, Err: radio.ErrNotConnected}
	}
	return l, nil
}

func (b *Backend) linkByAddr(addr radio.PeerAddress) (*link, bool) {
	var found *link
	b.links.Range(func(_ radio.ConnID, l *link) bool {
		if l.addr == addr {
			found = l
			return false
		}
		return true
	})
	return found, found != nil
}

// Open dials addr in the background. Success yields Connected, Opened and,
// once the attribute cache is filled, ServiceDiscoveryComplete. Failure
// yields Opened with a non-OK status followed by Disconnected.
func (b *Backend) Open(iface radio.InterfaceID, addr radio.PeerAddress, _ bool) error {
	r, err := b.device()
	if err != nil {
		return &radio.OpError{Op: "open", Err: err}
	}

	target, ok := b.peers.Get(addr.String())
	if !ok {
		target = ble.NewAddr(addr.String())
	}

	b.group.Go("ble-dial-"+addr.String(), func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, b.opts.DialTimeout)
		client, err := r.Dial(dctx, target)
		cancel()
		if err != nil {
			err = radio.NormalizeError(err)
			groutine.WithName(ctx, b.logger).WithError(err).WithField("addr", addr).Warn("Connection attempt failed")
			b.postGATT(iface, radio.Opened{Addr: addr, Status: statusOf(err)})
			b.postGATT(iface, radio.Disconnected{Addr: addr, Reason: radio.ReasonFailedToEstablish})
			return
		}

		b.mu.Lock()
		conn := b.nextConn
		b.nextConn++
		if b.nextConn == 0 {
			b.nextConn = 1
		}
		b.mu.Unlock()

		l := newLink(conn, iface, addr, client, b.opts.OpQueueSize)
		b.links.Set(conn, l)

		b.postGATT(iface, radio.Connected{Conn: conn, Addr: addr})
		b.postGATT(iface, radio.Opened{Conn: conn, Addr: addr, Status: radio.StatusOK, MTU: defaultATTMTU})

		b.group.Go(fmt.Sprintf("ble-link-%d", conn), l.run)
		b.group.Go(fmt.Sprintf("ble-monitor-%d", conn), func(ctx context.Context) { b.monitor(ctx, l) })

		if err := l.enqueue(func() { b.discover(l) }); err != nil {
			b.logger.WithError(err).WithField("conn_id", conn).Error("Failed to queue attribute discovery")
		}
	})
	return nil
}

func (b *Backend) monitor(ctx context.Context, l *link) {
	select {
	case <-ctx.Done():
		return
	case <-l.client.Disconnected():
	}

	reason := radio.ReasonRemoteUserTerminated
	if l.closing.Load() {
		reason = radio.ReasonLocalHostTerminated
	}
	b.links.Del(l.conn)
	l.close()

	groutine.WithName(ctx, b.logger).WithFields(logrus.Fields{
		"conn_id": l.conn,
		"addr":    l.addr,
		"reason":  fmt.Sprintf("0x%02X", reason),
	}).Info("Link closed")
	b.postGATT(l.iface, radio.Disconnected{Conn: l.conn, Addr: l.addr, Reason: reason})
}

// discover fills the link's attribute cache and posts ServiceDiscoveryComplete.
func (b *Backend) discover(l *link) {
	svcs, err := l.client.DiscoverServices(nil)
	if err != nil {
		b.logger.WithError(err).WithField("conn_id", l.conn).Error("Service discovery failed")
		b.postGATT(l.iface, radio.ServiceDiscoveryComplete{Conn: l.conn, Status: statusOf(radio.NormalizeError(err))})
		return
	}

	cache := make([]cachedService, 0, len(svcs))
	for _, s := range svcs {
		chars, err := l.client.DiscoverCharacteristics(nil, s)
		if err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"conn_id": l.conn,
				"service": s.UUID.String(),
			}).Warn("Characteristic discovery failed")
			chars = nil
		}
		cache = append(cache, cachedService{svc: s, discovered: chars})
	}
	assignHandles(cache)
	l.setCache(cache)

	b.logger.WithFields(logrus.Fields{
		"conn_id":  l.conn,
		"services": len(cache),
	}).Debug("Attribute cache filled")
	b.postGATT(l.iface, radio.ServiceDiscoveryComplete{Conn: l.conn, Status: radio.StatusOK})
}

// Close cancels the link outright, bypassing its request queue so a hung
// request cannot hold the link open. Disconnected follows from the monitor.
func (b *Backend) Close(_ radio.InterfaceID, conn radio.ConnID) error {
	l, err := b.link("close", conn)
	if err != nil {
		return err
	}
	l.closing.Store(true)
	b.group.Go(fmt.Sprintf("ble-close-%d", conn), func(ctx context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			groutine.WithName(ctx, b.logger).WithError(err).WithField("conn_id", conn).Warn("Failed to cancel connection")
		}
	})
	return nil
}

// RequestMTU exchanges the local MTU with the peer; completion is MTUConfigured.
func (b *Backend) RequestMTU(iface radio.InterfaceID, conn radio.ConnID) error {
	l, err := b.link("request_mtu", conn)
	if err != nil {
		return err
	}
	b.mu.Lock()
	mtu := b.localMTU
	b.mu.Unlock()

	return l.enqueue(func() {
		tx, err := l.client.ExchangeMTU(mtu)
		if err != nil {
			b.logger.WithError(err).WithField("conn_id", conn).Debug("MTU exchange failed")
			b.postGATT(iface, radio.MTUConfigured{Conn: conn, Status: statusOf(err), MTU: defaultATTMTU})
			return
		}
		b.postGATT(iface, radio.MTUConfigured{Conn: conn, Status: radio.StatusOK, MTU: tx})
	})
}

// SearchService reports every cached service matching uuid (all services for
// a zero-length uuid) and then SearchComplete.
func (b *Backend) SearchService(iface radio.InterfaceID, conn radio.ConnID, uuid ble.UUID) error {
	l, err := b.link("search_service", conn)
	if err != nil {
		return err
	}
	return l.enqueue(func() {
		if !l.hasCache() {
			b.discover(l)
		}
		for _, s := range l.services() {
			if len(uuid) > 0 && !s.svc.UUID.Equal(uuid) {
				continue
			}
			b.postGATT(iface, radio.SearchResult{Conn: conn, UUID: s.svc.UUID, Range: s.rng})
		}
		b.postGATT(iface, radio.SearchComplete{Conn: conn, Status: radio.StatusOK})
	})
}

// CountAttributes returns the number of cached characteristics inside rng.
func (b *Backend) CountAttributes(_ radio.InterfaceID, conn radio.ConnID, rng radio.HandleRange) (int, error) {
	l, err := b.link("count_attributes", conn)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range l.services() {
		for _, c := range s.chars {
			if rng.Contains(c.handle) {
				n++
			}
		}
	}
	return n, nil
}

// CharacteristicsByUUID returns cached characteristics inside rng matching uuid.
func (b *Backend) CharacteristicsByUUID(_ radio.InterfaceID, conn radio.ConnID, rng radio.HandleRange, uuid ble.UUID) ([]radio.CharacteristicElem, error) {
	l, err := b.link("get_char_by_uuid", conn)
	if err != nil {
		return nil, err
	}
	var out []radio.CharacteristicElem
	for _, s := range l.services() {
		for _, c := range s.chars {
			if !rng.Contains(c.handle) || !c.char.UUID.Equal(uuid) {
				continue
			}
			out = append(out, radio.CharacteristicElem{
				UUID:       c.char.UUID,
				Handle:     c.valueHandle,
				Properties: c.char.Property,
			})
		}
	}
	return out, nil
}

// RegisterForNotify subscribes to the characteristic with value handle
// handle; completion is NotifyRegistered and values arrive as Notification.
func (b *Backend) RegisterForNotify(iface radio.InterfaceID, addr radio.PeerAddress, handle uint16) error {
	l, ok := b.linkByAddr(addr)
	if !ok {
		return &radio.OpError{Op: "register_for_notify", Err: radio.ErrNotConnected}
	}
	c, ok := l.characteristic(handle)
	if !ok {
		return &radio.OpError{Op: "register_for_notify", Conn: l.conn, Err: radio.ErrUnknownHandle}
	}

	return l.enqueue(func() {
		if c.CCCD == nil {
			if _, err := l.client.DiscoverDescriptors(nil, c); err != nil {
				b.logger.WithError(err).WithField("conn_id", l.conn).Debug("Descriptor discovery failed")
			}
		}
		err := l.client.Subscribe(c, false, func(v []byte) {
			value := make([]byte, len(v))
			copy(value, v)
			b.postGATT(iface, radio.Notification{
				Conn:     l.conn,
				Addr:     l.addr,
				Handle:   handle,
				Value:    value,
				IsNotify: true,
			})
		})
		if err != nil {
			b.logger.WithError(err).WithField("conn_id", l.conn).Error("Subscribe failed")
		}
		b.postGATT(iface, radio.NotifyRegistered{Status: statusOf(err), Handle: handle})
	})
}

func statusOf(err error) radio.Status {
	switch {
	case err == nil:
		return radio.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return radio.StatusTimeout
	case errors.Is(err, radio.ErrUnknownHandle):
		return radio.StatusNotFound
	default:
		return radio.StatusError
	}
}
