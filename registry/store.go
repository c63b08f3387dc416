package registry

import "context"

// Store defines the persistence contract for the event registry.
// The registry is append-only: there is no update or delete operation.
type Store interface {
	// RegisterEventType persists a new event type. Returns ErrExists when
	// the name is already registered.
	RegisterEventType(ctx context.Context, et *Event) error

	// GetEventType returns an event type by name (e.g. "patient.created").
	GetEventType(ctx context.Context, name string) (*Event, error)

	// ListEventTypes returns registered event types ordered by
	// (category, name), optionally filtered.
	ListEventTypes(ctx context.Context, opts ListOpts) ([]*Event, error)
}
