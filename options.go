package dispatch

import (
	"log/slog"
	"time"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/observability"
	"github.com/careops/dispatch/ratelimit"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/store"
	"github.com/careops/dispatch/subscription"
)

// Dispatcher is the root webhook delivery engine.
type Dispatcher struct {
	config    Config
	store     store.Store
	registry  *registry.Registry
	validator *registry.Validator
	subSvc    *subscription.Service
	cache     *subscription.Cache
	engine    *delivery.Engine
	dlqSvc    *dlq.Service
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// Option configures a Dispatcher instance.
type Option func(*Dispatcher) error

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config:  DefaultConfig(),
		limiter: ratelimit.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.store == nil {
		return nil, ErrNoStore
	}
	d.wireServices()
	return d, nil
}

// WithStore sets the persistence backend for the Dispatcher instance.
func WithStore(s store.Store) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Dispatcher instance.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due deliveries.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) error {
		d.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the default HTTP timeout per delivery attempt.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RequestTimeout = timeout
		return nil
	}
}

// WithMaxRetries sets the default retry ceiling for subscriptions that do
// not configure their own.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxRetries = n
		return nil
	}
}

// WithRetrySchedule sets the backoff delays between retry attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RetrySchedule = schedule
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = timeout
		return nil
	}
}

// WithCacheTTL sets the validity window of the subscription match cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.CacheTTL = ttl
		return nil
	}
}

// WithContentType sets the default outbound Content-Type header.
func WithContentType(contentType string) Option {
	return func(d *Dispatcher) error {
		d.config.ContentType = contentType
		return nil
	}
}

// WithUserAgent sets the outbound User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(d *Dispatcher) error {
		d.config.UserAgent = userAgent
		return nil
	}
}

// WithFallbackSecret sets the service-wide HMAC signing secret used by
// subscriptions that have no signing key of their own.
func WithFallbackSecret(secret string) Option {
	return func(d *Dispatcher) error {
		d.config.FallbackSecret = secret
		return nil
	}
}

// WithRateLimiter replaces the default per-subscription rate limiter.
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(d *Dispatcher) error {
		d.limiter = limiter
		return nil
	}
}

// WithMetrics enables metric instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) error {
		d.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry tracing of delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) error {
		d.tracer = t
		return nil
	}
}
