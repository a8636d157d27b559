package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/radio"
)

type cachedChar struct {
	char        *ble.Characteristic
	handle      uint16 // declaration handle
	valueHandle uint16
}

type cachedService struct {
	svc        *ble.Service
	discovered []*ble.Characteristic
	rng        radio.HandleRange
	chars      []cachedChar
}

// assignHandles copies handles reported by the platform into the cache.
// Services without handles (CoreBluetooth hides them) get sequential
// synthetic ones so range lookups keep working.
func assignHandles(cache []cachedService) {
	next := uint16(1)
	for i := range cache {
		s := &cache[i]
		synthetic := s.svc.Handle == 0 && s.svc.EndHandle == 0
		if !synthetic {
			s.rng = radio.HandleRange{Start: s.svc.Handle, End: s.svc.EndHandle}
			for _, c := range s.discovered {
				s.chars = append(s.chars, cachedChar{char: c, handle: c.Handle, valueHandle: c.ValueHandle})
			}
			if s.rng.End >= next {
				next = s.rng.End + 1
			}
			continue
		}

		s.rng.Start = next
		next++
		for _, c := range s.discovered {
			s.chars = append(s.chars, cachedChar{char: c, handle: next, valueHandle: next + 1})
			next += 2
		}
		s.rng.End = next - 1
	}
}

// link is one established connection: its client, attribute cache and a
// serial request queue drained by run.
type link struct {
	conn   radio.ConnID
	iface  radio.InterfaceID
	addr   radio.PeerAddress
	client Link

	ops     chan func()
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool

	mu    sync.RWMutex
	cache []cachedService
	ready bool
}

func newLink(conn radio.ConnID, iface radio.InterfaceID, addr radio.PeerAddress, client Link, queue int) *link {
	if queue <= 0 {
		queue = 1
	}
	return &link{
		conn:   conn,
		iface:  iface,
		addr:   addr,
		client: client,
		ops:    make(chan func(), queue),
		done:   make(chan struct{}),
	}
}

func (l *link) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case op := <-l.ops:
			op()
		}
	}
}

// enqueue schedules op on the link worker without blocking.
func (l *link) enqueue(op func()) error {
	select {
	case <-l.done:
		return &radio.OpError{Op: "enqueue", Conn: l.conn, Err: radio.ErrNotConnected}
	default:
	}
	select {
	case l.ops <- op:
		return nil
	default:
		return &radio.OpError{Op: "enqueue", Conn: l.conn, Err: radio.ErrBusy}
	}
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *link) setCache(cache []cachedService) {
	l.mu.Lock()
	l.cache = cache
	l.ready = true
	l.mu.Unlock()
}

func (l *link) hasCache() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

func (l *link) services() []cachedService {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache
}

func (l *link) characteristic(valueHandle uint16) (*ble.Characteristic, bool) {
	for _, s := range l.services() {
		for _, c := range s.chars {
			if c.valueHandle == valueHandle {
				return c.char, true
			}
		}
	}
	return nil, false
}
