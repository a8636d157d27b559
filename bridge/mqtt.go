package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/groutine"
	"github.com/srg/envbridge/internal/sensor"
)

// ErrPublishTimeout is returned when the client does not complete a publish in time.
var ErrPublishTimeout = errors.New("publish not acknowledged in time")

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker         string
	Topic          string
	ClientID       string `default:"envbridge"`
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration `default:"10s"`
	PublishTimeout time.Duration `default:"1s"`
	OutboxSize     uint32        `default:"16"` // readings kept while the broker is offline
	FlushBatch     uint32        `default:"4"`  // queued readings sent per Publish
}

// ClientFactory creates the MQTT client (can be overridden in tests).
//
//nolint:revive // ClientFactory name is intentional for test mocking
var ClientFactory = mqtt.NewClient

// MQTTPublisher publishes readings to an MQTT broker through an
// overwrite-oldest outbox. While the broker is unreachable readings only
// accumulate; once connected each Publish drains a bounded batch in order.
type MQTTPublisher struct {
	opts   MQTTOptions
	status *StatusGroup
	logger *logrus.Logger
	client mqtt.Client

	mu     sync.Mutex
	outbox mpmc.RichOverlappedRingBuffer[[]byte]
	retry  []byte // head reading whose last send failed
}

// NewMQTTPublisher creates the client; Connect starts connecting.
func NewMQTTPublisher(opts MQTTOptions, status *StatusGroup, logger *logrus.Logger) (*MQTTPublisher, error) {
	defaults.SetDefaults(&opts)
	if opts.Broker == "" {
		return nil, fmt.Errorf("failed to create MQTT publisher: broker is required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("failed to create MQTT publisher: topic is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("failed to create MQTT publisher: invalid QoS %d", opts.QoS)
	}
	if status == nil {
		status = NewStatusGroup()
	}
	if logger == nil {
		logger = logrus.New()
	}

	p := &MQTTPublisher{
		opts:   opts,
		status: status,
		logger: logger,
		outbox: mpmc.NewOverlappedRingBuffer[[]byte](opts.OutboxSize),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost).
		SetReconnectingHandler(p.onReconnecting)
	p.client = ClientFactory(co)
	return p, nil
}

// Connect starts connecting in the background; retries continue until Close.
func (p *MQTTPublisher) Connect(ctx context.Context) {
	p.logger.WithField("broker", p.opts.Broker).Info("Connecting to MQTT broker")
	token := p.client.Connect()
	groutine.Go(ctx, "mqtt-connect", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-token.Done():
		}
		if err := token.Error(); err != nil {
			groutine.WithName(ctx, p.logger).WithError(err).WithField("broker", p.opts.Broker).Error("MQTT connection failed")
			p.status.Set(LinkFailed)
		}
	})
}

func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	p.status.Clear(LinkFailed)
	p.status.Set(LinkUp | BrokerConnected)
	p.logger.WithField("broker", p.opts.Broker).Info("MQTT connected")
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.status.Clear(BrokerConnected | LinkUp)
	p.status.Set(LinkFailed)
	p.logger.WithError(err).WithField("broker", p.opts.Broker).Warn("MQTT connection lost")
}

func (p *MQTTPublisher) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	p.logger.WithField("broker", p.opts.Broker).Debug("MQTT reconnecting")
}

// Publish queues r and, while the broker is connected, sends up to
// FlushBatch queued readings oldest first. A reading that fails to send
// stays at the head of the queue for the next call.
func (p *MQTTPublisher) Publish(r sensor.Reading) error {
	payload := FormatPayload(r)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enqueue(payload); err != nil {
		return err
	}
	if !p.client.IsConnectionOpen() {
		p.logger.WithField("payload", string(payload)).Debug("Broker offline, reading queued")
		return nil
	}
	return p.flush(int(p.opts.FlushBatch))
}

// enqueue appends payload to the outbox. Caller holds mu.
func (p *MQTTPublisher) enqueue(payload []byte) error {
	overwrites, err := p.outbox.EnqueueM(payload)
	if err != nil {
		return fmt.Errorf("failed to queue reading: %w", err)
	}
	if overwrites > 0 {
		p.logger.WithField("dropped", overwrites).Warn("Outbox full, oldest readings dropped")
	}
	return nil
}

// flush sends at most n queued readings. Caller holds mu.
func (p *MQTTPublisher) flush(n int) error {
	for i := 0; i < n; i++ {
		payload := p.retry
		if payload == nil {
			if p.outbox.IsEmpty() {
				return nil
			}
			var err error
			if payload, err = p.outbox.Dequeue(); err != nil {
				return fmt.Errorf("outbox dequeue error: %w", err)
			}
		}
		if err := p.send(payload); err != nil {
			p.retry = payload
			return err
		}
		p.retry = nil
	}
	return nil
}

func (p *MQTTPublisher) send(payload []byte) error {
	token := p.client.Publish(p.opts.Topic, p.opts.QoS, p.opts.Retain, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("failed to publish to %s: %w", p.opts.Topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.opts.Topic, err)
	}
	p.logger.WithFields(logrus.Fields{
		"topic":   p.opts.Topic,
		"payload": string(payload),
	}).Debug("Reading published")
	return nil
}

// Pending returns whether readings are waiting in the outbox.
func (p *MQTTPublisher) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retry != nil || !p.outbox.IsEmpty()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
	p.status.Clear(BrokerConnected | LinkUp)
}
