package events

import "sync"

// Buffer collects events until Flush or Discard is called. The escrow engine
// uses it so subscribers only observe events of calls that committed.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter by queueing the event.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Events returns a copy of the queued events.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards all queued events to the target in emission order and clears
// the buffer.
func (b *Buffer) Flush(target Emitter) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if target == nil {
		return
	}
	for _, evt := range pending {
		target.Emit(evt)
	}
}

// Discard drops all queued events.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Truncate drops every event queued after the first n.
func (b *Buffer) Truncate(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(b.events) {
		b.events = b.events[:n]
	}
}
