// Package memory provides an in-memory Store implementation for unit
// testing and single-process embedding.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/careops/dispatch"
	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/registry"
	dispatchstore "github.com/careops/dispatch/store"
	"github.com/careops/dispatch/subscription"
)

// compile-time interface check.
var _ dispatchstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	eventTypes    map[string]*registry.Event            // keyed by name
	subscriptions map[string]*subscription.Subscription // keyed by ID string
	events        map[string]*event.Event               // keyed by ID string
	deliveries    map[string]*delivery.Delivery         // keyed by ID string
	claimed       map[string]bool                       // simulates SKIP LOCKED
	dlqEntries    map[string]*dlq.Entry                 // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:    make(map[string]*registry.Event),
		subscriptions: make(map[string]*subscription.Subscription),
		events:        make(map[string]*event.Event),
		deliveries:    make(map[string]*delivery.Delivery),
		claimed:       make(map[string]bool),
		dlqEntries:    make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports closure; there is no connection to check.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return dispatch.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// registry.Store
// ──────────────────────────────────────────────────

// RegisterEventType persists a new event type.
func (s *Store) RegisterEventType(_ context.Context, et *registry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eventTypes[et.Definition.Name]; ok {
		return registry.ErrExists
	}
	s.eventTypes[et.Definition.Name] = et
	return nil
}

// GetEventType returns an event type by name.
func (s *Store) GetEventType(_ context.Context, name string) (*registry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return et, nil
}

// ListEventTypes returns registered event types ordered by (category, name).
func (s *Store) ListEventTypes(_ context.Context, opts registry.ListOpts) ([]*registry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*registry.Event, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if opts.Category != "" && et.Definition.Category != opts.Category {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Definition.Category != result[j].Definition.Category {
			return result[i].Definition.Category < result[j].Definition.Category
		}
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions for a subscriber, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, subscriberID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if sub.SubscriberID != subscriberID {
			continue
		}
		if opts.Status != nil && sub.Status != *opts.Status {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListActive returns every subscription with active status.
func (s *Store) ListActive(_ context.Context) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == subscription.StatusActive {
			result = append(result, sub)
		}
	}
	return result, nil
}

// RecordSuccess increments the success counter and sets the last-success
// timestamp. The store mutex makes the increment atomic.
func (s *Store) RecordSuccess(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.SuccessCount++
	sub.LastSuccessAt = &at
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFailure increments the failure counter and sets the last-failure
// timestamp.
func (s *Store) RecordFailure(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.FailureCount++
	sub.LastFailureAt = &at
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event occurrence.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event occurrence by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	return evt, nil
}

// ListEvents returns event occurrences, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if opts.Name != "" && evt.Name != opts.Name {
			continue
		}
		if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && evt.CreatedAt.After(*opts.To) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// Enqueue creates a pending delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = d
	return nil
}

// EnqueueBatch creates multiple deliveries atomically.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = d
	}
	return nil
}

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// Dequeue claims due deliveries (concurrent-safe). Returns copies so
// callers can mutate without holding a lock.
func (s *Store) Dequeue(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))

	for _, d := range s.deliveries {
		if d.State != delivery.StatePending && d.State != delivery.StateRetry {
			continue
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		if s.claimed[d.ID.String()] {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRetryAt.Before(candidates[j].NextRetryAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		s.claimed[d.ID.String()] = true
		result = append(result, copyDelivery(d))
	}

	return result, nil
}

// UpdateDelivery modifies a delivery and releases its claim.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return delivery.ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	delete(s.claimed, d.ID.String())
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.State != nil && d.State != *opts.State {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries fanned out from one event occurrence.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting an attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.State == delivery.StatePending || d.State == delivery.StateRetry {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently failed delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.SubscriberID != "" && e.SubscriberID != opts.SubscriberID {
			continue
		}
		if opts.SubscriptionID != nil && e.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	return e, nil
}

// Replay marks a DLQ entry replayed and enqueues a fresh delivery with the
// original payload.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now

	d := s.replayDelivery(e, now)
	s.deliveries[d.ID.String()] = d
	return nil
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64

	for _, e := range s.dlqEntries {
		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}
		if e.ReplayedAt != nil {
			continue
		}

		e.ReplayedAt = &now
		d := s.replayDelivery(e, now)
		s.deliveries[d.ID.String()] = d
		count++
	}
	return count, nil
}

// replayDelivery builds a fresh pending delivery from a DLQ entry. The
// retry ceiling is copied from the original delivery when it still exists.
func (s *Store) replayDelivery(e *dlq.Entry, now time.Time) *delivery.Delivery {
	maxRetries := 3
	if orig, ok := s.deliveries[e.DeliveryID.String()]; ok {
		maxRetries = orig.MaxRetries
	}
	return &delivery.Delivery{
		Entity:         dispatch.NewEntity(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: e.SubscriptionID,
		EventID:        e.EventID,
		EventName:      e.EventName,
		Payload:        e.Payload,
		State:          delivery.StatePending,
		MaxRetries:     maxRetries,
		NextRetryAt:    now,
	}
}

// Purge deletes DLQ entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.CreatedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
