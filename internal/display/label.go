// Package display renders the bridge status label on a terminal.
//
// The label is shared between the polling loop, which rewrites it without
// ever blocking, and the panel's redraw goroutine.
package display

import "sync"

// Label is a text buffer guarded by a mutex.
type Label struct {
	mu      sync.Mutex
	text    string
	version uint64
}

// NewLabel creates a label showing initial.
func NewLabel(initial string) *Label {
	return &Label{text: initial, version: 1}
}

// TrySet replaces the text only if the label is not held by a reader.
// It reports whether the update happened.
func (l *Label) TrySet(text string) bool {
	if !l.mu.TryLock() {
		return false
	}
	defer l.mu.Unlock()
	l.set(text)
	return true
}

// Set replaces the text, waiting for the lock.
func (l *Label) Set(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(text)
}

func (l *Label) set(text string) {
	if text == l.text {
		return
	}
	l.text = text
	l.version++
}

// Text returns the current text.
func (l *Label) Text() string {
	text, _ := l.Snapshot()
	return text
}

// Snapshot returns the text with a version that changes on every new text.
func (l *Label) Snapshot() (string, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text, l.version
}
