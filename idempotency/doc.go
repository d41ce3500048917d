// Package idempotency guarantees at-most-once side effects for jobs
// that carry an idempotency key.
//
// The claim is the only cross-executor mutual-exclusion primitive in
// the system: two executors racing on the same key must never both run
// the handler. Store implementations therefore perform the claim as a
// single atomic check-and-set round-trip (SET NX on Redis, INSERT ON
// CONFLICT on Postgres, a mutex on the memory store). Queue-level
// locking is not a substitute, since duplicates can arrive through
// different queues or from webhook retries outside the queue entirely.
//
// Claim outcomes:
//
//	Claimed          the caller owns the key and must run the handler,
//	                 then Resolve (success) or Release (terminal failure)
//	AlreadyResolved  a previous execution completed; the cached result is
//	                 returned and the handler is skipped
//	InProgress       another executor holds the key; back off briefly
//
// Records expire after a TTL chosen to outlive all retries of the
// originating job (24h by default). Re-claiming an expired key behaves
// as a fresh claim.
package idempotency
