package conduit

import "time"

// Config holds configuration for the Core.
type Config struct {
	// Concurrency is the number of executors run per queue.
	Concurrency int

	// Queues is the list of queues this core will process.
	Queues []string

	// RecheckInterval is the delay applied to a job deferred because its
	// capability is disabled or its circuit breaker is open. Deferred jobs
	// do not consume retry attempts.
	RecheckInterval time.Duration

	// ClaimRetryDelay is the short backoff applied when a job's
	// idempotency key is held in-progress by another executor.
	ClaimRetryDelay time.Duration

	// MaxProcessing is the deadline for a single handler invocation.
	// Exceeding it is treated as a transient failure.
	MaxProcessing time.Duration

	// IdempotencyTTL is how long resolved idempotency records are kept.
	// It must outlive all retries of the originating job.
	IdempotencyTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		Queues:          []string{"default"},
		RecheckInterval: 30 * time.Second,
		ClaimRetryDelay: 500 * time.Millisecond,
		MaxProcessing:   5 * time.Minute,
		IdempotencyTTL:  24 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}
