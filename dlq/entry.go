package dlq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// ErrNotFound is returned when a DLQ entry lookup misses.
var ErrNotFound = errors.New("dlq: entry not found")

// Entry represents a permanently failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the failed delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event occurrence.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventName is the event type name for filtering.
	EventName string `json:"event_name"`

	// SubscriberID identifies the subscription owner, if the subscription
	// still existed at failure time.
	SubscriberID string `json:"subscriber_id,omitempty"`

	// EndpointURL is the destination URL at the time of failure.
	EndpointURL string `json:"endpoint_url,omitempty"`

	// Payload is the event data that failed to deliver.
	Payload json.RawMessage `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// RetryCount is the number of retries that were made before giving up.
	RetryCount int `json:"retry_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	SubscriberID   string
	SubscriptionID *id.ID
	From           *time.Time
	To             *time.Time
}
