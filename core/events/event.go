package events

import "workescrow/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// broadcastable attribute form.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the gateway
// stream, the audit log).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed wraps a raw attribute event so it satisfies Payload.
type Typed struct {
	Evt *types.Event
}

// EventType implements Event.
func (t Typed) EventType() string {
	if t.Evt == nil {
		return ""
	}
	return t.Evt.Type
}

// Event implements Payload.
func (t Typed) Event() *types.Event { return t.Evt }

// Render converts any emitted event into its attribute form. Events that do
// not implement Payload are rendered with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if p, ok := evt.(Payload); ok {
		if rendered := p.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Multi fans every event out to each configured emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
