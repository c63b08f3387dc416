// Package event defines the persisted event instance: one trigger call
// produces one instance, whose ID is shared by every delivery fanned out
// from it. Subscribers use that ID to de-duplicate, since delivery is
// at-least-once.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// ErrNotFound is returned when an event instance lookup misses.
var ErrNotFound = errors.New("event: not found")

// Event represents one occurrence of a registered event type.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this occurrence, shared by all
	// deliveries created from the same trigger call.
	ID id.ID `json:"id"`

	// Name is the registered event type name (e.g. "patient.created").
	Name string `json:"name"`

	// Payload is the event data, serialized once at trigger time.
	// Deliveries carry this exact byte sequence; HMAC signatures are
	// computed over it.
	Payload json.RawMessage `json:"payload"`

	// Metadata holds trigger-supplied context (correlation IDs, actor, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Name   string
	From   *time.Time
	To     *time.Time
}
