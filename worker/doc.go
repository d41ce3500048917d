// Package worker is the execution harness: a pool of executor
// goroutines that dequeue jobs from the fair scheduler and run each one
// through the full pipeline.
//
// Per job the pipeline is:
//
//  1. Capability override check. A force-disabled capability routes
//     through the degradation manager (defer, fallback, or fail fast)
//     without consuming a retry attempt.
//  2. Idempotency claim. A key already resolved acknowledges the job
//     with the cached result; a key in progress defers briefly.
//  3. Circuit breaker admission. An open breaker defers the job; a
//     half-open breaker admits exactly one trial call.
//  4. Handler invocation through the middleware chain, with the
//     configured processing deadline.
//  5. Outcome routing. Success resolves the key and acks; transient
//     failures retry with backoff until attempts are exhausted;
//     permanent failures and exhausted jobs go to the dead letter
//     store.
//
// Deferrals never consume retry attempts; only real handler executions
// do.
package worker
