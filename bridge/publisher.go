package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/sensor"
)

// Publisher forwards readings to their destination.
type Publisher interface {
	Publish(r sensor.Reading) error
	Close()
}

// FormatPayload renders a reading in the topic's JSON layout, space included,
// e.g. {"temp":2.7, "humid":50}.
func FormatPayload(r sensor.Reading) []byte {
	return fmt.Appendf(nil, `{"temp":%.1f, "humid":%d}`, r.Temperature, r.Humidity)
}

// LogPublisher logs readings instead of sending them. The link is reported
// up immediately.
type LogPublisher struct {
	topic     string
	status    *StatusGroup
	logger    *logrus.Logger
	published atomic.Uint64
}

// NewLogPublisher creates a dry-run publisher for topic.
func NewLogPublisher(topic string, status *StatusGroup, logger *logrus.Logger) *LogPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	if status != nil {
		status.Set(LinkUp | BrokerConnected)
	}
	return &LogPublisher{topic: topic, status: status, logger: logger}
}

func (p *LogPublisher) Publish(r sensor.Reading) error {
	p.published.Add(1)
	p.logger.WithFields(logrus.Fields{
		"topic":   p.topic,
		"payload": string(FormatPayload(r)),
	}).Info("Reading published (dry run)")
	return nil
}

// Published returns the number of readings logged.
func (p *LogPublisher) Published() uint64 {
	return p.published.Load()
}

func (p *LogPublisher) Close() {
	if p.status != nil {
		p.status.Clear(BrokerConnected)
	}
}
