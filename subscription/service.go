package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
	"github.com/careops/dispatch/security"
)

// EventCatalog checks subscribed event names against the event registry.
type EventCatalog interface {
	HasEvent(ctx context.Context, name string) (bool, error)
}

// Service provides subscription management operations. Every write
// invalidates the match cache so the trigger path never serves a stale
// membership beyond the moment of the change.
type Service struct {
	store   Store
	catalog EventCatalog
	cache   *Cache
	logger  *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, catalog EventCatalog, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		cache:   cache,
		logger:  logger,
	}
}

// Create registers a new webhook subscription.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if err := svc.validate(ctx, in, false); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = StatusActive
	}

	key := in.SecurityKey
	if in.SecurityScheme == security.SchemeHMAC && key == "" {
		key = security.GenerateSecret()
	}

	sub := &Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		SubscriberID:   in.SubscriberID,
		SubscriberType: in.SubscriberType,
		Name:           in.Name,
		Events:         in.Events,
		EndpointURL:    in.EndpointURL,
		ContentType:    in.ContentType,
		Headers:        in.Headers,
		SecurityScheme: in.SecurityScheme,
		SecurityKey:    key,
		SecurityConfig: in.SecurityConfig,
		Filters:        in.Filters,
		Status:         status,
		Timeout:        in.Timeout,
		MaxRetries:     in.MaxRetries,
		RateLimit:      in.RateLimit,
		Metadata:       in.Metadata,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.cache.Invalidate()
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription. Zero-valued input fields are
// left unchanged.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if err := svc.validate(ctx, in, true); err != nil {
		return nil, err
	}

	if in.Name != "" {
		sub.Name = in.Name
	}
	if len(in.Events) > 0 {
		sub.Events = in.Events
	}
	if in.EndpointURL != "" {
		sub.EndpointURL = in.EndpointURL
	}
	if in.ContentType != "" {
		sub.ContentType = in.ContentType
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.SecurityScheme != "" {
		sub.SecurityScheme = in.SecurityScheme
	}
	if in.SecurityKey != "" {
		sub.SecurityKey = in.SecurityKey
	}
	if in.SecurityConfig != nil {
		sub.SecurityConfig = in.SecurityConfig
	}
	if in.Filters != nil {
		sub.Filters = in.Filters
	}
	if in.Status != "" {
		sub.Status = in.Status
	}
	if in.Timeout > 0 {
		sub.Timeout = in.Timeout
	}
	if in.MaxRetries > 0 {
		sub.MaxRetries = in.MaxRetries
	}
	if in.RateLimit > 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.cache.Invalidate()
	return sub, nil
}

// Delete physically removes a subscription. Deliveries still in flight for
// it are failed by the engine when it finds the subscription missing.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	if err := svc.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}
	svc.cache.Invalidate()
	return nil
}

// List returns subscriptions for a subscriber.
func (svc *Service) List(ctx context.Context, subscriberID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, subscriberID, opts)
}

// RotateSecret generates a new HMAC signing secret for a subscription.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	newSecret := security.GenerateSecret()
	sub.SecurityKey = newSecret

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	svc.cache.Invalidate()
	return newSecret, nil
}

// validate checks an input payload. On update, empty fields mean
// "unchanged" and skip their checks.
func (svc *Service) validate(ctx context.Context, in Input, partial bool) error {
	if in.EndpointURL == "" && !partial {
		return &ValidationError{Field: "endpoint_url", Message: "required"}
	}
	if in.EndpointURL != "" {
		if _, err := url.ParseRequestURI(in.EndpointURL); err != nil {
			return &ValidationError{Field: "endpoint_url", Message: "invalid URL"}
		}
	}

	if in.SubscriberID == "" && !partial {
		return &ValidationError{Field: "subscriber_id", Message: "required"}
	}

	if len(in.Events) == 0 && !partial {
		return &ValidationError{Field: "events", Message: "at least one event name required"}
	}
	for _, name := range in.Events {
		known, err := svc.catalog.HasEvent(ctx, name)
		if err != nil {
			return fmt.Errorf("subscription: check event %q: %w", name, err)
		}
		if !known {
			return &ValidationError{Field: "events", Message: "unregistered event " + name}
		}
	}

	if !security.ValidSchemeName(in.SecurityScheme) {
		return &ValidationError{Field: "security_scheme", Message: "unknown scheme " + in.SecurityScheme}
	}

	switch in.Status {
	case "", StatusActive, StatusInactive, StatusTesting:
	default:
		return &ValidationError{Field: "status", Message: "unknown status " + string(in.Status)}
	}

	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
