package event

import (
	"context"

	"github.com/careops/dispatch/id"
)

// Store defines the persistence contract for event instances.
type Store interface {
	// CreateEvent persists an event instance. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event instance by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns event instances, optionally filtered by name or time range.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
