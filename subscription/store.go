package subscription

import (
	"context"
	"time"

	"github.com/careops/dispatch/id"
)

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription physically removes a subscription. In-flight
	// deliveries for it are abandoned by the engine.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions for a subscriber, optionally filtered.
	ListSubscriptions(ctx context.Context, subscriberID string, opts ListOpts) ([]*Subscription, error)

	// ListActive returns every subscription with active status. The match
	// cache filters these in memory by event membership.
	ListActive(ctx context.Context) ([]*Subscription, error)

	// RecordSuccess atomically increments the success counter and sets the
	// last-success timestamp. Must not be a read-modify-write in
	// application code; concurrent workers race otherwise.
	RecordSuccess(ctx context.Context, subID id.ID, at time.Time) error

	// RecordFailure atomically increments the failure counter and sets the
	// last-failure timestamp.
	RecordFailure(ctx context.Context, subID id.ID, at time.Time) error
}
