// Package registry maintains the catalog of event types subscribers can
// subscribe to. Entries are immutable once registered, so the in-memory
// cache never goes stale.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// Registry is the cached service for the event type catalog.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Event
}

// New creates a Registry backed by the given store.
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		cache:  make(map[string]*Event),
	}
}

// Register adds a new event type to the catalog. The store rejects
// duplicate names with ErrExists.
func (r *Registry) Register(ctx context.Context, def Definition, opts ...RegisterOption) (*Event, error) {
	ro := registerOptions{}
	for _, o := range opts {
		o(&ro)
	}

	et := &Event{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: def,
		Metadata:   ro.metadata,
	}

	if err := r.store.RegisterEventType(ctx, et); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[def.Name] = et
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "event type registered",
		"name", def.Name, "category", def.Category)

	return et, nil
}

// RegisterOption configures Register behavior.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	metadata map[string]string
}

// WithMetadata sets metadata on a registered event type.
func WithMetadata(m map[string]string) RegisterOption {
	return func(o *registerOptions) { o.metadata = m }
}

// Get returns an event type by name, using the cache when available.
func (r *Registry) Get(ctx context.Context, name string) (*Event, error) {
	r.mu.RLock()
	if et, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return et, nil
	}
	r.mu.RUnlock()

	et, err := r.store.GetEventType(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[name] = et
	r.mu.Unlock()

	return et, nil
}

// HasEvent reports whether name is registered. Implements
// subscription.EventCatalog.
func (r *Registry) HasEvent(ctx context.Context, name string) (bool, error) {
	_, err := r.Get(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// List returns registered event types ordered by (category, name).
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Event, error) {
	return r.store.ListEventTypes(ctx, opts)
}

// WarmCache preloads the cache from the store.
func (r *Registry) WarmCache(ctx context.Context) error {
	types, err := r.store.ListEventTypes(ctx, ListOpts{})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Event, len(types))
	for _, et := range types {
		r.cache[et.Definition.Name] = et
	}
	return nil
}
