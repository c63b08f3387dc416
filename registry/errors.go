package registry

import "errors"

// Sentinel errors for registry operations. The root package re-exports
// these as dispatch.ErrEventTypeNotFound and dispatch.ErrEventTypeExists.
var (
	// ErrNotFound is returned when an event type is not registered.
	ErrNotFound = errors.New("registry: event type not found")

	// ErrExists is returned when registering a name that is already taken.
	ErrExists = errors.New("registry: event type already registered")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
