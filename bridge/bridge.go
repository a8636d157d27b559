package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/groutine"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/sensor"
)

// DefaultPollInterval is how long one loop iteration waits for status changes.
const DefaultPollInterval = 100 * time.Millisecond

const labelTemplate = "%s bridge\nNetwork: %d, MQTT: %d\nTemperature: %.1f degC\nHumidity: %d %%RH\n"

// Label receives the rendered status text. TrySet must not block.
type Label interface {
	TrySet(text string) bool
}

// Bridge represents a running sensor-to-broker bridge
type Bridge interface {
	Central() *central.Central
	State() central.State
	Status() Bits
	Last() (sensor.Reading, bool)
	// Published counts readings handed to the publisher without error.
	Published() uint64
	// Wait blocks until the bridge stops and returns the stack error, if any.
	Wait() error
}

// BridgeOptions contains all the configuration for running a bridge
type BridgeOptions struct {
	Stack        radio.Stack    // BLE stack
	Central      central.Config // target identifiers and radio parameters
	Decoder      sensor.Decoder // nil = LYWSD03MMC layout
	Publisher    Publisher      // closed when the bridge stops
	Status       *StatusGroup   // shared with the publisher (nil = new group)
	Label        Label          // optional status label
	PollInterval time.Duration  // 0 = DefaultPollInterval
	Logger       *logrus.Logger // Logger instance
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// BridgeCallback is executed with the running bridge
type BridgeCallback[R any] func(Bridge) (R, error)

// RenderLabel formats the status label.
func RenderLabel(name string, network, broker bool, r sensor.Reading) string {
	return fmt.Sprintf(labelTemplate, name, btoi(network), btoi(broker), r.Temperature, r.Humidity)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// bridgeImpl implements the Bridge interface
type bridgeImpl struct {
	central *central.Central
	loop    *loop
	status  *StatusGroup
	ctx     context.Context

	mu  sync.Mutex
	err error
}

func (b *bridgeImpl) Central() *central.Central { return b.central }

func (b *bridgeImpl) State() central.State { return b.central.State() }

func (b *bridgeImpl) Status() Bits { return b.status.Get() }

func (b *bridgeImpl) Last() (sensor.Reading, bool) { return b.loop.lastReading() }

func (b *bridgeImpl) Published() uint64 { return b.loop.published.Load() }

func (b *bridgeImpl) Wait() error {
	<-b.ctx.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *bridgeImpl) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// RunDeviceBridge starts the central role on the stack, runs the polling loop
// that forwards readings to the publisher and executes the callback with the
// running bridge. Everything is stopped when the callback returns.
func RunDeviceBridge[R any](
	ctx context.Context,
	opts *BridgeOptions,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	// Validate options
	if opts == nil {
		return zero, fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Stack == nil {
		return zero, fmt.Errorf("failed to execute bridge: BLE stack is required")
	}
	if opts.Publisher == nil {
		return zero, fmt.Errorf("failed to execute bridge: publisher is required")
	}

	// Set defaults
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	status := opts.Status
	if status == nil {
		status = NewStatusGroup()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	defer opts.Publisher.Close()

	progressCallback("Starting")

	c, err := central.New(opts.Stack, opts.Central, opts.Decoder, logger)
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to execute bridge: %w", err)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group := groutine.NewGroup(bridgeCtx)
	defer group.Stop()

	b := &bridgeImpl{
		central: c,
		status:  status,
		ctx:     bridgeCtx,
		loop: &loop{
			name:      opts.Central.DeviceName,
			readings:  c.Readings(),
			publisher: opts.Publisher,
			status:    status,
			label:     opts.Label,
			interval:  interval,
			logger:    logger,
		},
	}

	group.Go("ble-events", func(ctx context.Context) {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			groutine.WithName(ctx, logger).WithError(err).Error("BLE event delivery stopped")
			b.setErr(fmt.Errorf("BLE event delivery stopped: %w", err))
			cancel()
		}
	})

	if err := c.Start(); err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to execute bridge: %w", err)
	}

	group.Go("bridge-loop", b.loop.run)

	progressCallback("Running")
	logger.WithFields(logrus.Fields{
		"device": opts.Central.DeviceName,
		"poll":   interval,
	}).Info("Bridge running")

	return callback(b)
}

// loop is the polling consumer: it tracks link status, forwards the latest
// reading and refreshes the label without ever blocking on it.
type loop struct {
	name      string
	readings  central.Readings
	publisher Publisher
	status    *StatusGroup
	label     Label
	interval  time.Duration
	logger    *logrus.Logger

	network bool
	broker  bool

	mu        sync.Mutex
	last      sensor.Reading
	hasLast   bool
	published atomic.Uint64
}

func (l *loop) run(ctx context.Context) {
	for ctx.Err() == nil {
		bits := l.status.Wait(ctx, AllBits, l.interval)
		l.step(bits)
	}
}

// step performs one iteration with the given status bits.
func (l *loop) step(bits Bits) {
	if bits&LinkUp != 0 {
		l.network = true
	}
	if bits&LinkFailed != 0 {
		l.network = false
	}
	l.broker = bits&BrokerConnected != 0

	r, ok := l.readings.TryReceive()
	l.mu.Lock()
	if ok {
		l.last, l.hasLast = r, true
	}
	last := l.last
	l.mu.Unlock()

	if ok {
		if err := l.publisher.Publish(r); err != nil {
			l.logger.WithError(err).WithField("reading", r.String()).Warn("Failed to publish reading")
		} else {
			l.published.Add(1)
		}
	}

	if l.label != nil {
		l.label.TrySet(RenderLabel(l.name, l.network, l.broker, last))
	}
}

func (l *loop) lastReading() (sensor.Reading, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast
}
