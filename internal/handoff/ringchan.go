// Package handoff moves values from the radio event context to polling consumers.
package handoff

import "sync"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest unread value is
// discarded and the new one takes its place. Consumers either poll with
// TryReceive or select on C().
//
// With capacity 1 this is a latest-value-wins mailbox:
//
//	rc := handoff.NewRingChannel[sensor.Reading](1)
//	rc.ForceSend(r1)
//	rc.ForceSend(r2)
//	v, ok := rc.TryReceive() // v == r2, ok == true
//	_, ok = rc.TryReceive()  // ok == false
type RingChannel[T any] struct {
	ch chan T
	mu sync.Mutex // serializes producers so drop+insert is one step
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("handoff: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest value if the buffer is full.
// It never blocks and never allocates. Reports whether a value was replaced.
func (rc *RingChannel[T]) ForceSend(v T) (replaced bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	select {
	case rc.ch <- v:
		return false
	default:
	}

	select {
	case <-rc.ch:
		replaced = true
	default:
		// a consumer drained it in between
	}
	// Producers are serialized and consumers only remove, so there is room now.
	rc.ch <- v
	return replaced
}

// TrySend inserts v only if there is room. Reports success.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	select {
	case rc.ch <- v:
		return true
	default:
		return false
	}
}

// TryReceive returns the oldest value without blocking.
// ok is false when nothing is buffered.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v = <-rc.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered values.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}
