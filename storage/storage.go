package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/c360/rulecore/debug"
)

// EventStore persists events and lists them per entity.
//
// Events are grouped in streams keyed by tenant, entity and event type. Within
// a stream, Find returns events ordered by timestamp, newest first.
type EventStore interface {
	// SaveEvent stores ev. The event is expected to be valid.
	SaveEvent(ctx context.Context, ev debug.Event) error

	// Find returns at most limit events of the stream, newest first.
	// A limit of zero or less returns the whole stream.
	Find(ctx context.Context, tenantID, entityID uuid.UUID, eventType debug.EventType, limit int) ([]debug.Event, error)

	// DeleteBefore removes every event with a timestamp (unix millis) below ts
	// and returns how many were removed.
	DeleteBefore(ctx context.Context, ts int64) (int, error)

	// Close releases the backend. Calls after Close fail.
	Close() error
}
