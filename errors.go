package dispatch

import (
	"errors"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/subscription"
)

// Sentinel errors returned by Dispatcher operations. The lookup errors
// alias the sentinels of the packages that produce them, so errors.Is
// works whether callers compare against dispatch or the subpackage.
var (
	// ErrNoStore is returned when a Dispatcher is created without a store.
	ErrNoStore = errors.New("dispatch: store is required")

	// ErrEventTypeNotFound is returned when an event name is not registered.
	ErrEventTypeNotFound = registry.ErrNotFound

	// ErrEventTypeExists is returned when registering an event name that is
	// already taken.
	ErrEventTypeExists = registry.ErrExists

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("dispatch: payload validation failed")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrEventNotFound is returned when an event occurrence cannot be found.
	ErrEventNotFound = event.ErrNotFound

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = dlq.ErrNotFound

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("dispatch: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("dispatch: migration failed")
)
