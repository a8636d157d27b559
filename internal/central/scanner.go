package central

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/radio"
)

// Connector is the part of the session the scanner hands a match to.
type Connector interface {
	Connecting() bool
	Open(addr radio.PeerAddress)
}

// Scanner configures and runs scanning and filters reports by device name.
type Scanner struct {
	gap       radio.GAP
	filter    ScanFilter
	params    radio.ScanParams
	duration  time.Duration
	connector Connector
	logger    *logrus.Logger
}

// NewScanner creates a scanner. The connector is attached later with
// SetConnector since the session itself restarts scanning.
func NewScanner(gap radio.GAP, filter ScanFilter, params radio.ScanParams, duration time.Duration, logger *logrus.Logger) *Scanner {
	return &Scanner{
		gap:      gap,
		filter:   filter,
		params:   params,
		duration: duration,
		logger:   logger,
	}
}

// SetConnector attaches the session that receives matches.
func (s *Scanner) SetConnector(c Connector) {
	s.connector = c
}

// Configure applies scan parameters. Scanning starts on ScanParamsSet.
func (s *Scanner) Configure() error {
	if err := s.gap.ConfigureScan(s.params); err != nil {
		s.logger.WithError(err).Error("Scan parameter configuration rejected")
		return err
	}
	return nil
}

// Start begins a scan of the configured duration. A rejection is logged and not retried.
func (s *Scanner) Start() error {
	if err := s.gap.StartScan(s.duration); err != nil {
		s.logger.WithFields(logrus.Fields{
			"duration": s.duration,
			"error":    err,
		}).Error("Scan start rejected")
		return err
	}
	return nil
}

// OnParamsSet starts scanning once parameters are applied.
func (s *Scanner) OnParamsSet(ev radio.ScanParamsSet) {
	if ev.Status != radio.StatusOK {
		s.logger.WithField("status", ev.Status).Error("Scan parameter set failed")
		return
	}
	_ = s.Start()
}

// OnResult filters one advertisement report and hands a match to the connector.
func (s *Scanner) OnResult(ev radio.ScanResult) {
	if ev.Kind == radio.InquiryComplete {
		s.logger.Info("Scan duration elapsed")
		return
	}

	name, ok := CompleteLocalName(ev.AdvData)
	if !ok || !s.filter.Match(name) {
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"addr": ev.Addr.String(),
		"rssi": ev.RSSI,
		"name": string(name),
	})
	log.Info("Target device found")

	if s.connector == nil {
		log.Warn("No connector attached, ignoring match")
		return
	}
	if s.connector.Connecting() {
		log.Debug("Connection attempt already in flight, ignoring match")
		return
	}

	if err := s.gap.StopScan(); err != nil {
		log.WithError(err).Warn("Scan stop rejected")
	}
	s.connector.Open(ev.Addr)
}
