package subscription

import "time"

// Input is the creation/update payload for subscriptions.
type Input struct {
	// SubscriberID identifies the owning principal.
	SubscriberID string `json:"subscriber_id"`

	// SubscriberType qualifies SubscriberID.
	SubscriberType string `json:"subscriber_type"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Events is the set of registered event names to subscribe to.
	Events []string `json:"events"`

	// EndpointURL is the webhook delivery URL.
	EndpointURL string `json:"endpoint_url"`

	// ContentType overrides the engine default when set.
	ContentType string `json:"content_type,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// SecurityScheme is one of none, basic, bearer, hmac, oauth2.
	// Defaults to none.
	SecurityScheme string `json:"security_scheme,omitempty"`

	// SecurityKey is the scheme credential. Auto-generated for hmac when empty.
	SecurityKey string `json:"security_key,omitempty"`

	// SecurityConfig holds scheme-specific settings.
	SecurityConfig map[string]string `json:"security_config,omitempty"`

	// Filters maps payload paths to expected values.
	Filters map[string]any `json:"filters,omitempty"`

	// Status defaults to active on create.
	Status Status `json:"status,omitempty"`

	// Timeout overrides the engine's per-attempt HTTP timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries overrides the engine's retry ceiling when positive.
	MaxRetries int `json:"max_retries,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
