package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/store"
	"github.com/careops/dispatch/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (d *Dispatcher) wireServices() {
	d.registry = registry.New(d.store, d.logger)
	d.validator = registry.NewValidator()

	d.cache = subscription.NewCache(d.store, d.config.CacheTTL)
	d.subSvc = subscription.NewService(d.store, d.registry, d.cache, d.logger)

	d.dlqSvc = dlq.NewService(d.store, d.logger)

	d.engine = delivery.NewEngine(d.store, d.dlqSvc, delivery.EngineConfig{
		Concurrency:  d.config.Concurrency,
		PollInterval: d.config.PollInterval,
		BatchSize:    d.config.BatchSize,
		Sender: delivery.SenderConfig{
			Timeout:        d.config.RequestTimeout,
			ContentType:    d.config.ContentType,
			UserAgent:      d.config.UserAgent,
			FallbackSecret: d.config.FallbackSecret,
		},
		RetrySchedule: d.config.RetrySchedule,
		Limiter:       d.limiter,
		Metrics:       d.metrics,
		Tracer:        d.tracer,
	}, d.logger)
}

// Start begins the delivery engine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine, waiting up to the
// configured shutdown timeout for in-flight deliveries.
func (d *Dispatcher) Stop(ctx context.Context) {
	if d.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
		defer cancel()
	}
	d.engine.Stop(ctx)
}

// RegisterEventType adds an event type definition to the registry.
func (d *Dispatcher) RegisterEventType(ctx context.Context, def registry.Definition, opts ...registry.RegisterOption) (*registry.Event, error) {
	return d.registry.Register(ctx, def, opts...)
}

// Trigger records one occurrence of a registered event and fans out
// deliveries to every matching subscription.
//
// The trigger path:
//  1. Look up the event type (reject unknown names).
//  2. Validate the payload against the type's JSON Schema, if one is set.
//  3. Resolve candidate subscriptions from the match cache and evaluate
//     each subscription's filters against the payload.
//  4. If nothing matched, return successfully with no side effects.
//  5. Persist one event occurrence; its ID is shared by every delivery.
//  6. Enqueue one pending delivery per matched subscription. Each
//     enqueue is isolated: one subscription's failure never blocks the
//     others.
//
// Trigger does only cheap work; the outbound HTTP calls happen on the
// engine's workers. Callers should treat it as fire and forget and must
// not fail their own operation on a webhook error.
func (d *Dispatcher) Trigger(ctx context.Context, eventName string, payload any, metadata map[string]string) (*event.Event, error) {
	et, err := d.registry.Get(ctx, eventName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEventTypeNotFound, eventName)
		}
		return nil, fmt.Errorf("dispatch: load event type %s: %w", eventName, err)
	}

	// Serialize once; deliveries carry these exact bytes and signatures
	// are computed over them. Validation and filters run against the
	// decoded form so struct and map payloads evaluate identically.
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal payload: %w", err)
	}
	var decoded any
	if unmarshalErr := json.Unmarshal(data, &decoded); unmarshalErr != nil {
		return nil, fmt.Errorf("dispatch: decode payload: %w", unmarshalErr)
	}

	if len(et.Definition.Schema) > 0 {
		if validateErr := d.validator.Validate(et.Definition.Schema, decoded); validateErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	candidates, err := d.cache.ForEvent(ctx, eventName)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve subscriptions: %w", err)
	}
	if len(candidates) == 0 {
		d.logger.InfoContext(ctx, "no subscriptions for event", "event", eventName)
		return nil, nil
	}

	matched := make([]*subscription.Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if subscription.EvalFilters(sub.Filters, decoded) {
			matched = append(matched, sub)
		}
	}
	if len(matched) == 0 {
		d.logger.InfoContext(ctx, "no subscriptions matched filters", "event", eventName)
		return nil, nil
	}

	evt := &event.Event{
		Entity:   entity.New(),
		ID:       id.NewEventID(),
		Name:     eventName,
		Payload:  data,
		Metadata: metadata,
	}
	if createErr := d.store.CreateEvent(ctx, evt); createErr != nil {
		return nil, fmt.Errorf("dispatch: persist event: %w", createErr)
	}

	now := time.Now().UTC()
	enqueued := 0
	for _, sub := range matched {
		maxRetries := sub.MaxRetries
		if maxRetries <= 0 {
			maxRetries = d.config.MaxRetries
		}
		del := &delivery.Delivery{
			Entity:         entity.New(),
			ID:             id.NewDeliveryID(),
			SubscriptionID: sub.ID,
			EventID:        evt.ID,
			EventName:      eventName,
			State:          delivery.StatePending,
			Payload:        data,
			MaxRetries:     maxRetries,
			NextRetryAt:    now,
		}
		if enqueueErr := d.store.Enqueue(ctx, del); enqueueErr != nil {
			d.logger.ErrorContext(ctx, "enqueue delivery failed",
				"event_id", evt.ID, "subscription_id", sub.ID, "error", enqueueErr)
			continue
		}
		enqueued++
	}

	if d.metrics != nil {
		d.metrics.EventsTriggeredTotal.Inc()
		d.metrics.PendingDeliveries.Add(float64(enqueued))
	}

	d.logger.DebugContext(ctx, "event triggered",
		"event_id", evt.ID,
		"event", eventName,
		"subscriptions", enqueued,
	)

	return evt, nil
}

// RetryDelivery resets a delivery to pending and makes it due immediately,
// regardless of its current state or how many retries it has used. It is
// an explicit human override; the retry counter still increments so the
// history reflects the extra attempt.
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID id.ID) error {
	del, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	sub, err := d.store.GetSubscription(ctx, del.SubscriptionID)
	if err != nil {
		return err
	}

	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.config.MaxRetries
	}

	del.State = delivery.StatePending
	del.RetryCount++
	del.MaxRetries = maxRetries
	del.NextRetryAt = time.Now().UTC()
	del.CompletedAt = nil

	if err := d.store.UpdateDelivery(ctx, del); err != nil {
		return fmt.Errorf("dispatch: update delivery: %w", err)
	}

	d.logger.InfoContext(ctx, "delivery manually retried",
		"delivery_id", del.ID, "retry_count", del.RetryCount)
	return nil
}

// Registry returns the event type registry.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Subscriptions returns the subscription management service.
func (d *Dispatcher) Subscriptions() *subscription.Service {
	return d.subSvc
}

// DLQ returns the dead letter queue service.
func (d *Dispatcher) DLQ() *dlq.Service {
	return d.dlqSvc
}

// Store returns the underlying store.
func (d *Dispatcher) Store() store.Store {
	return d.store
}

// InvalidateSubscriptions clears the subscription match cache. Call it
// after mutating subscriptions directly through the store.
func (d *Dispatcher) InvalidateSubscriptions() {
	d.cache.Invalidate()
}
