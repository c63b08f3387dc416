package dispatch

import "time"

// Config holds the configuration for a Dispatcher instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the default HTTP timeout per delivery attempt,
	// used when a subscription does not set its own.
	RequestTimeout time.Duration

	// MaxRetries is the default retry ceiling, used when a subscription
	// does not set its own.
	MaxRetries int

	// RetrySchedule defines the backoff delays between retry attempts,
	// indexed by the delivery retry count and capped at the last entry.
	RetrySchedule []time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the validity window of the in-memory subscription match cache.
	// Set to 0 to disable caching.
	CacheTTL time.Duration

	// ContentType is the default outbound Content-Type, used when a
	// subscription does not set its own.
	ContentType string

	// UserAgent identifies the engine on outbound requests.
	UserAgent string

	// FallbackSecret signs HMAC deliveries for subscriptions that have no
	// signing key of their own.
	FallbackSecret string
}

// DefaultRetrySchedule defines the default backoff delays:
// 1 minute, 5 minutes, 30 minutes.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		BatchSize:       50,
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
		RetrySchedule:   DefaultRetrySchedule,
		ShutdownTimeout: 30 * time.Second,
		CacheTTL:        5 * time.Minute,
		ContentType:     "application/json",
		UserAgent:       "dispatch/1.0",
	}
}
