package bridge

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Bits is a set of link status flags.
type Bits uint32

const (
	LinkUp Bits = 1 << iota
	LinkFailed
	BrokerConnected

	AllBits = LinkUp | LinkFailed | BrokerConnected
)

func (b Bits) String() string {
	if b == 0 {
		return "none"
	}
	var names []string
	if b&LinkUp != 0 {
		names = append(names, "link_up")
	}
	if b&LinkFailed != 0 {
		names = append(names, "link_failed")
	}
	if b&BrokerConnected != 0 {
		names = append(names, "broker_connected")
	}
	return strings.Join(names, "|")
}

// StatusGroup is an event group: producers set and clear bits, the polling
// loop waits for them to change.
type StatusGroup struct {
	mu      sync.Mutex
	bits    Bits
	changed chan struct{} // closed and replaced on every change
}

// NewStatusGroup creates a group with no bits set.
func NewStatusGroup() *StatusGroup {
	return &StatusGroup{changed: make(chan struct{})}
}

// Set raises bits and returns the resulting set.
func (g *StatusGroup) Set(bits Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update(g.bits | bits)
	return g.bits
}

// Clear lowers bits and returns the resulting set.
func (g *StatusGroup) Clear(bits Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update(g.bits &^ bits)
	return g.bits
}

func (g *StatusGroup) update(next Bits) {
	if next == g.bits {
		return
	}
	g.bits = next
	close(g.changed)
	g.changed = make(chan struct{})
}

// Get returns the current bits.
func (g *StatusGroup) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Wait blocks until a bit in mask changes, timeout elapses or ctx is done,
// and returns the bits current at that moment.
func (g *StatusGroup) Wait(ctx context.Context, mask Bits, timeout time.Duration) Bits {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	g.mu.Lock()
	start, changed := g.bits, g.changed
	g.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return g.Get()
		case <-timer.C:
			return g.Get()
		case <-changed:
			g.mu.Lock()
			now := g.bits
			changed = g.changed
			g.mu.Unlock()
			if (now^start)&mask != 0 {
				return now
			}
		}
	}
}
