// Package store defines the aggregate persistence interface. Each
// durable subsystem (dlq, idempotency, override) defines its own store
// interface; the composite Store composes them all. Backends: Postgres,
// Redis, and Memory.
//
// The scheduler's run-queue is deliberately not part of this contract:
// it is in-process state, and embedding services re-enqueue on start.
// What must survive a restart is the audit trail (dead letters), the
// at-most-once guarantee (idempotency records), and operator toggles
// (capability overrides).
package store

import (
	"context"

	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/idempotency"
	"github.com/leftonspace/conduit/override"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	dlq.Store
	idempotency.Store
	override.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
