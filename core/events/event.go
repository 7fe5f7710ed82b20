package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for components that expose events optionally.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// CollectingEmitter buffers emitted events in order. Intended for tests and
// for the RPC event log.
type CollectingEmitter struct {
	Events []Event
}

// Emit appends the event to the buffer.
func (c *CollectingEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
