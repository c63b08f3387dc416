package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// ErrNotFound is returned when a delivery lookup misses.
var ErrNotFound = errors.New("delivery: not found")

// State represents the current state of a delivery.
type State string

const (
	// StatePending indicates the delivery is awaiting its first attempt.
	StatePending State = "pending"

	// StateDelivered indicates the delivery succeeded. Terminal.
	StateDelivered State = "delivered"

	// StateFailed indicates the delivery permanently failed: retries
	// exhausted or the subscription is gone. Terminal; only the manual
	// retry operation resumes it.
	StateFailed State = "failed"

	// StateRetry indicates a recoverable failure; the delivery is queued
	// again and becomes due at NextRetryAt.
	StateRetry State = "retry"
)

// Delivery is one attempt lineage for delivering one event occurrence to
// one subscription. It may span multiple retries.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventID references the event occurrence. Shared by every delivery
	// fanned out from the same trigger call.
	EventID id.ID `json:"event_id"`

	// EventName is the registered event type name, denormalized for the
	// X-Event-Name header and delivery history views.
	EventName string `json:"event_name"`

	// State is the current delivery state.
	State State `json:"state"`

	// Payload is the serialized event data sent as the request body.
	Payload json.RawMessage `json:"payload"`

	// RequestHeaders is the full outbound header set of the most recent attempt.
	RequestHeaders map[string]string `json:"request_headers,omitempty"`

	// ResponseStatus is the HTTP status code from the most recent attempt.
	ResponseStatus int `json:"response_status,omitempty"`

	// ResponseBody is the response body from the most recent attempt (capped).
	ResponseBody string `json:"response_body,omitempty"`

	// ResponseHeaders is the response header set from the most recent attempt.
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`

	// RespondedAt is when the endpoint responded, if it did.
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	// DurationMs is the wall-clock duration of the most recent attempt.
	DurationMs int `json:"duration_ms,omitempty"`

	// RetryCount is the number of retries scheduled so far. Starts at 0.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the retry ceiling, copied from the subscription (or
	// the engine default) at trigger time.
	MaxRetries int `json:"max_retries"`

	// NextRetryAt is when the delivery next becomes due.
	NextRetryAt time.Time `json:"next_retry_at"`

	// Error is the failure message from the most recent failed attempt.
	Error string `json:"error,omitempty"`

	// ErrorDetail captures an unexpected processing failure (message and
	// stack), distinct from an endpoint-reported error.
	ErrorDetail string `json:"error_detail,omitempty"`

	// CompletedAt is when the delivery reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}
