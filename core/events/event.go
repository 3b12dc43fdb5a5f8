package events

import "xsettle/core/types"

// Event represents a typed notification emitted during a state transition.
type Event interface {
	EventType() string
}

// Carrier is implemented by events that wrap a structured payload. Sinks that
// persist or forward events use it to reach the underlying attributes.
type Carrier interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (RPC, relays, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Components use
// it as the default so event emission stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to every configured sink in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(evt)
		}
	}
}
