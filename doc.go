// Package conduit provides a resilient, multi-tenant job-processing core
// for Go. It offers fair scheduling across tenants, a worker-pool execution
// harness with retry and dead-letter routing, per-dependency circuit
// breakers, at-most-once side effects via idempotency keys, and an
// operator-controlled capability override registry for graceful degradation.
//
// Conduit is designed as a library, not a service. Import it, configure a
// store, register handlers for your queues, and enqueue work.
//
// # Quick Start
//
//	c, err := conduit.New(
//	    conduit.WithStore(memStore),
//	    conduit.WithConcurrency(20),
//	    conduit.WithQueues([]string{"invoices", "webhooks"}),
//	)
//
// # Architecture
//
// Conduit follows a composable store pattern where each durable subsystem
// (dlq, idempotency, override) defines its own store interface. A single
// backend implements all of them. Scheduling state (per-tenant quotas,
// run queues) lives in memory behind a single coordinator; circuit breaker
// state is one authoritative instance per external dependency, shared by
// every executor.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conduit
