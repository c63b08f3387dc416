package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/observability"
	"github.com/careops/dispatch/ratelimit"
	"github.com/careops/dispatch/subscription"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	RecordSuccess(ctx context.Context, subID id.ID, at time.Time) error
	RecordFailure(ctx context.Context, subID id.ID, at time.Time) error
}

// DLQPusher pushes permanently failed deliveries to the dead letter queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *Delivery, sub *subscription.Subscription, lastError string, lastStatusCode int) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	BatchSize     int
	Sender        SenderConfig
	RetrySchedule []time.Duration
	Limiter       *ratelimit.Limiter
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
}

// Engine is the delivery worker pool that dequeues and processes deliveries.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	dlq     DLQPusher
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, dlq DLQPusher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.Sender),
		retrier: NewRetrier(cfg.RetrySchedule),
		dlq:     dlq,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to
// complete, or until ctx expires.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// pollLoop periodically dequeues due deliveries and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, del)
				}(d)
			}
		}
	}
}

// process handles a single delivery: fetch the subscription, send, decide,
// update. A panic while processing marks the delivery failed with the stack
// recorded rather than crashing the worker.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.State = StateFailed
			d.ErrorDetail = fmt.Sprintf("panic: %v\n%s", r, debug.Stack())
			now := time.Now().UTC()
			d.CompletedAt = &now
			if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
				e.logger.ErrorContext(ctx, "update delivery after panic failed",
					"delivery_id", d.ID, "error", updateErr)
			}
			e.logger.ErrorContext(ctx, "delivery processing panicked",
				"delivery_id", d.ID, "panic", r)
		}
	}()

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.SubscriptionID.String())
	}

	sub, err := e.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		// Transient store error: no attempt was made, so hand the claim
		// back and let a later poll pick the delivery up again.
		e.logger.ErrorContext(ctx, "get subscription failed",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "error", err)
		e.release(ctx, d)
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return
	}

	// A missing or paused subscription fails the delivery without retrying.
	if sub == nil || !sub.Deliverable() {
		e.failInactive(ctx, d, sub)
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, d.Error)
		}
		return
	}

	if e.config.Limiter != nil {
		if waitErr := e.config.Limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); waitErr != nil {
			// Shutting down; hand the claim back so the delivery is
			// retried on the next run.
			e.release(ctx, d)
			if span != nil {
				e.config.Tracer.EndDeliverySpan(span, 0, 0, waitErr.Error())
			}
			return
		}
	}

	result := e.sender.Send(ctx, sub, d)

	now := time.Now().UTC()
	d.Error = result.Error
	d.ResponseStatus = result.StatusCode
	d.ResponseBody = result.Body
	d.ResponseHeaders = result.Headers
	d.DurationMs = int(result.Duration.Milliseconds())
	if result.StatusCode != 0 {
		d.RespondedAt = &now
	}

	latencySeconds := result.Duration.Seconds()

	switch e.retrier.Decide(result, d) {
	case Delivered:
		d.State = StateDelivered
		d.Error = ""
		d.CompletedAt = &now
		if recErr := e.store.RecordSuccess(ctx, sub.ID, now); recErr != nil {
			e.logger.ErrorContext(ctx, "record success failed",
				"subscription_id", sub.ID, "error", recErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("delivered", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "duration_ms", d.DurationMs)

	case Retry:
		if d.Error == "" {
			d.Error = fmt.Sprintf("endpoint returned status %d", result.StatusCode)
		}
		if recErr := e.store.RecordFailure(ctx, sub.ID, now); recErr != nil {
			e.logger.ErrorContext(ctx, "record failure failed",
				"subscription_id", sub.ID, "error", recErr)
		}
		d.State = StateRetry
		d.NextRetryAt = e.retrier.NextRetryAt(d.RetryCount)
		d.RetryCount++
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "retry_count", d.RetryCount, "next_at", d.NextRetryAt)

	case Failed:
		if d.Error == "" {
			d.Error = fmt.Sprintf("endpoint returned status %d", result.StatusCode)
		}
		d.State = StateFailed
		d.CompletedAt = &now
		if recErr := e.store.RecordFailure(ctx, sub.ID, now); recErr != nil {
			e.logger.ErrorContext(ctx, "record failure failed",
				"subscription_id", sub.ID, "error", recErr)
		}
		if e.dlq != nil {
			if dlqErr := e.dlq.PushFailed(ctx, d, sub, d.Error, result.StatusCode); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to DLQ failed",
					"delivery_id", d.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "status", result.StatusCode, "error", d.Error)
	}

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, d.ResponseStatus, d.DurationMs, d.Error)
	}

	if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}

// release writes a claimed delivery back unchanged, releasing the dequeue
// claim so a later poll can pick it up again. It runs outside the caller's
// cancellation so a shutdown-interrupted worker still hands the row back.
func (e *Engine) release(ctx context.Context, d *Delivery) {
	if err := e.store.UpdateDelivery(context.WithoutCancel(ctx), d); err != nil {
		e.logger.ErrorContext(ctx, "release delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}

// failInactive terminates a delivery whose subscription is gone or paused.
// No attempt is made and no retry is scheduled.
func (e *Engine) failInactive(ctx context.Context, d *Delivery, sub *subscription.Subscription) {
	now := time.Now().UTC()
	d.State = StateFailed
	d.Error = "Subscription is not active"
	d.CompletedAt = &now

	if e.dlq != nil {
		if dlqErr := e.dlq.PushFailed(ctx, d, sub, d.Error, 0); dlqErr != nil {
			e.logger.ErrorContext(ctx, "push to DLQ failed",
				"delivery_id", d.ID, "error", dlqErr)
		}
	}
	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("failed", 0)
		e.config.Metrics.PendingDeliveries.Dec()
		e.config.Metrics.DLQSize.Inc()
	}
	e.logger.WarnContext(ctx, "delivery dropped, subscription not deliverable",
		"delivery_id", d.ID, "subscription_id", d.SubscriptionID)

	if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}
