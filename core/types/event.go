package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a copy of the event with its own attribute map.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := &Event{Type: e.Type, Attributes: make(map[string]string, len(e.Attributes))}
	for k, v := range e.Attributes {
		clone.Attributes[k] = v
	}
	return clone
}

// Attr returns the attribute stored under key, or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
