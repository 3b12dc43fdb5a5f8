package state

import (
	"log/slog"

	"xsettle/core/events"
)

// Recorder is an event emitter that appends every carried event to the
// manager's persistent log. Append failures are logged and dropped so event
// persistence can never fail a settlement that already committed.
type Recorder struct {
	manager *Manager
	logger  *slog.Logger
}

// NewRecorder creates a recorder writing to the manager's event log.
func NewRecorder(manager *Manager, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{manager: manager, logger: logger}
}

// Emit appends the event to the log if it carries a persistable payload.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || r.manager == nil || evt == nil {
		return
	}
	carrier, ok := evt.(events.Carrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	if _, err := r.manager.EventAppend(payload); err != nil {
		r.logger.Error("event log append failed", "type", payload.Type, "err", err)
	}
}
