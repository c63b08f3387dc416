package subscription

import (
	"errors"
	"time"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// ErrNotFound is returned when a subscription lookup misses.
var ErrNotFound = errors.New("subscription: not found")

// Status represents the lifecycle state of a subscription.
type Status string

const (
	// StatusActive indicates the subscription receives deliveries.
	StatusActive Status = "active"

	// StatusInactive indicates the subscription is paused; no deliveries
	// are created and in-flight deliveries fail without retrying.
	StatusInactive Status = "inactive"

	// StatusTesting indicates the subscription accepts manually triggered
	// deliveries but is not matched on the trigger path.
	StatusTesting Status = "testing"
)

// Subscription represents a subscriber's registration of interest in one or
// more event types, delivered to a single endpoint URL.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// SubscriberID identifies the principal that owns this subscription.
	SubscriberID string `json:"subscriber_id"`

	// SubscriberType qualifies SubscriberID (e.g. "practice", "partner").
	SubscriberType string `json:"subscriber_type"`

	// Name is a human-readable label for this subscription.
	Name string `json:"name"`

	// Events is the non-empty set of registered event names this
	// subscription receives. Matching is exact, not pattern-based.
	Events []string `json:"events"`

	// EndpointURL is the webhook delivery URL.
	EndpointURL string `json:"endpoint_url"`

	// ContentType overrides the engine default Content-Type when set.
	ContentType string `json:"content_type,omitempty"`

	// Headers are custom HTTP headers sent with each delivery. Security
	// headers are applied after these and cannot be overridden.
	Headers map[string]string `json:"headers,omitempty"`

	// SecurityScheme selects the outbound authentication method:
	// none, basic, bearer, hmac, or oauth2.
	SecurityScheme string `json:"security_scheme"`

	// SecurityKey is the scheme's credential (password, token, or HMAC
	// signing secret). Never serialized.
	SecurityKey string `json:"-"`

	// SecurityConfig holds scheme-specific settings (e.g. basic-auth username).
	SecurityConfig map[string]string `json:"security_config,omitempty"`

	// Filters maps dot-separated payload paths to an expected value or a
	// list of accepted values. A delivery is created only when every
	// filter matches.
	Filters map[string]any `json:"filters,omitempty"`

	// Status is the subscription lifecycle state.
	Status Status `json:"status"`

	// Timeout overrides the engine's per-attempt HTTP timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries overrides the engine's retry ceiling when positive.
	MaxRetries int `json:"max_retries,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// SuccessCount is the number of successful deliveries. Incremented
	// atomically at the store layer.
	SuccessCount int64 `json:"success_count"`

	// FailureCount is the number of failed delivery attempts. Incremented
	// atomically at the store layer.
	FailureCount int64 `json:"failure_count"`

	// LastSuccessAt is when the most recent delivery succeeded.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// LastFailureAt is when the most recent delivery attempt failed.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Subscribed reports whether this subscription's event set contains eventName.
func (s *Subscription) Subscribed(eventName string) bool {
	for _, name := range s.Events {
		if name == eventName {
			return true
		}
	}
	return false
}

// Deliverable reports whether the delivery engine may send to this
// subscription. Active and testing subscriptions are deliverable;
// inactive ones are not.
func (s *Subscription) Deliverable() bool {
	return s.Status == StatusActive || s.Status == StatusTesting
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
