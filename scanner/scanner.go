// Package scanner surveys nearby advertisers on a radio stack. It backs the
// scan command, which helps find the sensor's name and address before
// configuring the bridge.
package scanner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/adv"
	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/groutine"
	"github.com/srg/envbridge/internal/radio"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Radio is the part of the stack a survey needs.
type Radio interface {
	radio.GAP
	Run(ctx context.Context, sink radio.EventSink) error
}

// DeviceEntry is everything learned about one advertiser.
type DeviceEntry struct {
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	AddressType    string    `json:"address_type"`
	RSSI           int       `json:"rssi"`
	Services       []string  `json:"services,omitempty"`
	ManufacturerID *uint16   `json:"manufacturer_id,omitempty"`
	TxPower        *int      `json:"tx_power,omitempty"`
	Target         bool      `json:"target"`
	Seen           int       `json:"seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Params       radio.ScanParams
	Duration     time.Duration // 0 scans until ctx is done
	ServiceUUIDs []blelib.UUID
	AllowList    []string
	BlockList    []string
	// Target marks entries whose complete local name it accepts.
	Target func(name []byte) bool
}

// Scanner handles BLE device discovery
type Scanner struct {
	radio  Radio
	logger *logrus.Logger

	devices *hashmap.Map[string, *DeviceEntry]
	opts    *ScanOptions

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
	err     error
}

// NewScanner creates a scanner on r.
func NewScanner(r Radio, logger *logrus.Logger) (*Scanner, error) {
	if r == nil {
		return nil, fmt.Errorf("failed to create scanner: radio is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{radio: r, logger: logger}, nil
}

// Scan configures the controller, scans for opts.Duration and returns the
// advertisers seen, keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceEntry, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.mu.Lock()
	s.devices = hashmap.New[string, *DeviceEntry]()
	s.opts = opts
	s.done = make(chan struct{})
	s.stopped = false
	s.err = nil
	done := s.done
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	groutine.Go(runCtx, "scan-events", func(ctx context.Context) {
		runErr <- s.radio.Run(ctx, s)
	})

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	if err := s.radio.ConfigureScan(opts.Params); err != nil {
		cancel()
		<-runErr
		return nil, fmt.Errorf("failed to configure scan: %w", err)
	}

	var err error
	select {
	case <-ctx.Done():
	case <-done:
		err = s.result()
	case rerr := <-runErr:
		if rerr != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("scan failed: %w", rerr)
		}
		runErr <- nil
	}
	cancel()
	<-runErr

	if err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]DeviceEntry, s.devices.Len())
	s.devices.Range(func(key string, value *DeviceEntry) bool {
		s.mu.Lock()
		devices[key] = *value
		s.mu.Unlock()
		return true
	})
	return devices, nil
}

func (s *Scanner) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish ends the current scan once. Caller holds mu.
func (s *Scanner) finish(err error) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.err = err
	close(s.done)
}

// HandleGAP drives the scan from stack events.
func (s *Scanner) HandleGAP(ev radio.GAPEvent) {
	switch e := ev.(type) {
	case radio.ScanParamsSet:
		if e.Status != radio.StatusOK {
			s.stop(fmt.Errorf("scan parameters rejected: %s", e.Status))
			return
		}
		if err := s.radio.StartScan(s.options().Duration); err != nil {
			s.stop(fmt.Errorf("failed to start scan: %w", err))
		}
	case radio.ScanStarted:
		if e.Status != radio.StatusOK {
			s.stop(fmt.Errorf("scan start failed: %s", e.Status))
		}
	case radio.ScanResult:
		if e.Kind == radio.InquiryComplete {
			s.stop(nil)
			return
		}
		s.handleAdvertisement(e)
	case radio.ScanStopped:
		var err error
		if e.Status != radio.StatusOK {
			err = fmt.Errorf("scan stopped: %s", e.Status)
		}
		s.stop(err)
	}
}

// HandleGATT ignores attribute events; a survey never connects.
func (s *Scanner) HandleGATT(radio.InterfaceID, radio.GATTEvent) {}

func (s *Scanner) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.finish(err)
	}
}

func (s *Scanner) options() *ScanOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts == nil {
		return &ScanOptions{}
	}
	return s.opts
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(ev radio.ScanResult) {
	info, err := parseAdvertisement(ev.AdvData)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": ev.Addr.String(),
			"error":   err,
		}).Debug("Ignoring malformed advertisement")
		return
	}

	opts := s.options()
	address := ev.Addr.String()

	entry, existing := s.devices.Get(address)
	if !existing {
		if !shouldIncludeDevice(address, info.services, opts) {
			return
		}
		entry, existing = s.devices.GetOrInsert(address, &DeviceEntry{
			Address:     address,
			AddressType: ev.Addr.Type.String(),
		})
	}

	s.mu.Lock()
	entry.RSSI = ev.RSSI
	entry.Seen++
	entry.LastSeen = time.Now()
	if info.name != "" {
		entry.Name = info.name
	}
	if opts.Target != nil && info.complete != nil && opts.Target(info.complete) {
		entry.Target = true
	}
	for _, u := range info.services {
		if !containsString(entry.Services, u.String()) {
			entry.Services = append(entry.Services, u.String())
		}
	}
	if info.manufacturer != nil {
		entry.ManufacturerID = info.manufacturer
	}
	if info.txPower != nil {
		entry.TxPower = info.txPower
	}
	s.mu.Unlock()

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  info.name,
			"address": address,
			"rssi":    ev.RSSI,
		}).Info("Discovered new device")
	}
}

// shouldIncludeDevice applies the allow/block/service filters
func shouldIncludeDevice(addr string, services []blelib.UUID, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 && !containsString(opts.AllowList, addr) {
		return false
	}

	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range services {
				if required.Equal(advUUID) {
					return true
				}
			}
		}
		return false
	}

	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type advInfo struct {
	name         string
	complete     []byte
	services     []blelib.UUID
	manufacturer *uint16
	txPower      *int
}

// ErrMalformedAdvertisement is returned for AD data the parser cannot walk.
var ErrMalformedAdvertisement = errors.New("malformed advertisement")

// parseAdvertisement extracts the survey fields from raw AD structures.
// Trailing padding and truncated structures are cut off first.
func parseAdvertisement(data []byte) (info advInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedAdvertisement, r)
		}
	}()

	p := adv.NewRawPacket(wellFormed(data))
	info.name = p.LocalName()
	if name, ok := completeName(p); ok {
		info.complete = name
		info.name = string(name)
	}
	info.services = p.UUIDs()
	if md := p.ManufacturerData(); len(md) >= 2 {
		id := binary.LittleEndian.Uint16(md[:2])
		info.manufacturer = &id
	}
	if power, ok := p.TxPower(); ok {
		info.txPower = &power
	}
	return info, nil
}

const adTypeCompleteName = 0x09

func completeName(p *adv.Packet) ([]byte, bool) {
	if b := p.Field(adTypeCompleteName); b != nil {
		return b, true
	}
	return nil, false
}

// wellFormed returns the prefix of data made of complete, non-empty AD structures.
func wellFormed(data []byte) []byte {
	n := 0
	for n < len(data) {
		l := int(data[n])
		if l == 0 || n+1+l > len(data) {
			break
		}
		n += 1 + l
	}
	return data[:n]
}

// Sorted returns the entries strongest signal first, targets on top.
func Sorted(devices map[string]DeviceEntry) []DeviceEntry {
	list := make([]DeviceEntry, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Target != list[j].Target {
			return list[i].Target
		}
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}
