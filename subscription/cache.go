package subscription

import (
	"context"
	"sync"
	"time"
)

// Cache maps event names to the active subscriptions eligible to receive
// them, avoiding a store read on every trigger.
//
// Invalidation is coarse: a single expiry timestamp covers the whole cache,
// and any subscription write clears everything. Subscription changes are
// rare relative to event volume, so the occasional extra store read is
// cheaper than per-key bookkeeping.
type Cache struct {
	store Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string][]*Subscription
	expiry  time.Time
}

// NewCache creates a subscription match cache with the given validity window.
// A ttl of 0 disables caching entirely.
func NewCache(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string][]*Subscription),
	}
}

// ForEvent returns all active subscriptions whose event set contains
// eventName. Cache hits within the validity window skip the store.
func (c *Cache) ForEvent(ctx context.Context, eventName string) ([]*Subscription, error) {
	c.mu.Lock()
	if time.Now().After(c.expiry) {
		c.entries = make(map[string][]*Subscription)
	}
	if subs, ok := c.entries[eventName]; ok && c.ttl > 0 {
		c.mu.Unlock()
		return subs, nil
	}
	c.mu.Unlock()

	// Miss: load every active subscription and filter by membership.
	// Racing populations are acceptable; worst case is one extra read.
	all, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*Subscription, 0, len(all))
	for _, sub := range all {
		if sub.Subscribed(eventName) {
			matched = append(matched, sub)
		}
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[eventName] = matched
		c.expiry = time.Now().Add(c.ttl)
		c.mu.Unlock()
	}

	return matched, nil
}

// Invalidate clears the cache and resets its expiry. Every subscription
// create, update, or delete must call this so the next trigger observes
// the change immediately.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string][]*Subscription)
	c.expiry = time.Time{}
	c.mu.Unlock()
}
