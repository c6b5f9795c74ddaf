// Package store defines the composite Store interface for all outbox
// persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all.
package store

import (
	"context"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/optout"
)

// Store is the aggregate persistence interface.
type Store interface {
	event.Store
	optout.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
