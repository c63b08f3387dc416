package registry

import (
	"encoding/json"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// Definition is the canonical description of a webhook event type.
// Definitions are registered once, typically at boot, and are permanent:
// removing one would orphan the subscriptions that reference it.
type Definition struct {
	// Name is the dot-separated event name.
	// Convention: "<resource>.<action>", e.g. "patient.created".
	Name string `json:"name"`

	// Category groups related events for listing and documentation
	// (e.g. "patient", "claim", "encounter").
	Category string `json:"category"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Schema is an optional JSON Schema (draft-07) describing the payload
	// shape. When set, triggering validates the payload against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Version is the API version of this event type.
	Version string `json:"version,omitempty"`

	// Example is an optional example payload for documentation and testing.
	Example json.RawMessage `json:"example,omitempty"`
}

// Event is the database entity for a registered webhook event type.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event type.
	ID id.ID `json:"id"`

	// Definition contains the event type descriptor.
	Definition Definition `json:"definition"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for event type listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Category string
}
