// Package store defines the composite Store interface for all dispatcher
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them all, so backends implement one surface and services depend
// only on the slice they use.
package store

import (
	"context"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	registry.Store
	subscription.Store
	event.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
