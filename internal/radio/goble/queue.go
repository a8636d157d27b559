package goble

import (
	"sync"

	"github.com/srg/envbridge/internal/radio"
)

// delivery is one queued event; exactly one of gap and gatt is set.
type delivery struct {
	gap   radio.GAPEvent
	iface radio.InterfaceID
	gatt  radio.GATTEvent
}

// eventQueue is an unbounded FIFO; producers never block. Requests issued
// from inside the sink post their own completions.
type eventQueue struct {
	mu     sync.Mutex
	items  []delivery
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(d delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]
	q.items[0] = delivery{}
	q.items = q.items[1:]
	return d, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
