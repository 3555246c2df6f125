package events

import (
	"context"
	"sync"
)

// Buffer keeps the most recent events in memory for the dashboard and the API
type Buffer struct {
	events []Event
	next   int
	full   bool
	mu     sync.RWMutex
}

// NewBuffer creates a ring buffer holding up to size events
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 200
	}
	return &Buffer{events: make([]Event, size)}
}

// Publish implements Publisher
func (b *Buffer) Publish(_ context.Context, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.next] = e
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns everything buffered.
func (b *Buffer) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.events)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.next - i + len(b.events)) % len(b.events)
		out = append(out, b.events[idx])
	}
	return out
}

// OfType returns buffered events of one type, newest first
func (b *Buffer) OfType(eventType string) []Event {
	var out []Event
	for _, e := range b.Recent(0) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops every buffered event
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make([]Event, len(b.events))
	b.next = 0
	b.full = false
}
