package events

import "sync"

// Buffer holds events until Flush forwards them to the target emitter. Events
// emitted inside a transaction are released only once it is committed.
type Buffer struct {
	mu      sync.Mutex
	target  Emitter
	pending []Event
}

// NewBuffer returns a buffer forwarding to target.
func NewBuffer(target Emitter) *Buffer {
	return &Buffer{target: target}
}

// SetTarget replaces the emitter that receives flushed events.
func (b *Buffer) SetTarget(target Emitter) {
	b.mu.Lock()
	b.target = target
	b.mu.Unlock()
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len returns the number of held events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush forwards held events in emission order and clears the buffer.
func (b *Buffer) Flush() {
	b.mu.Lock()
	pending, target := b.pending, b.target
	b.pending = nil
	b.mu.Unlock()
	if target == nil {
		return
	}
	for _, evt := range pending {
		target.Emit(evt)
	}
}

// Drop discards held events.
func (b *Buffer) Drop() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
