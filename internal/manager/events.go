package manager

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name, operation id and file ID plus optional fields.
type Event struct {
	Name   string
	OpID   string
	FileID string
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Debug().Str("event", e.Name).Str("op", e.OpID)
	if e.FileID != "" {
		ev = ev.Str("file", e.FileID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}

func newOpID() string { return uuid.NewString() }
