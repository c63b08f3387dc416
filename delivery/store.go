package delivery

import (
	"context"

	"github.com/careops/dispatch/id"
)

// Store persists deliveries and doubles as the work queue. A pending or
// retry row whose NextRetryAt has passed is due; Dequeue claims due rows
// so concurrent workers never process the same delivery twice.
type Store interface {
	// Enqueue persists a new delivery in the pending state.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch persists a batch of deliveries atomically where the
	// backend supports it.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// Dequeue claims up to limit due deliveries and returns them. Claimed
	// rows are not returned to other callers until UpdateDelivery releases
	// or completes them.
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)

	// UpdateDelivery persists the delivery's current state and attempt
	// results, releasing any dequeue claim.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID, or ErrNotFound.
	GetDelivery(ctx context.Context, deliveryID id.ID) (*Delivery, error)

	// ListBySubscription returns deliveries targeting a subscription,
	// newest first.
	ListBySubscription(ctx context.Context, subscriptionID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries fanned out from one event
	// occurrence.
	ListByEvent(ctx context.Context, eventID id.ID) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting an attempt.
	CountPending(ctx context.Context) (int64, error)
}
