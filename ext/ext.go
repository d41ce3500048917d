package ext

import (
	"context"
	"time"

	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is admitted by the scheduler.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobDequeued is called when an executor picks up a job. wait is the
// time the job spent queued before being served.
type JobDequeued interface {
	OnJobDequeued(ctx context.Context, j *job.Job, wait time.Duration) error
}

// JobCompleted is called after a job finishes successfully. elapsed is
// the handler processing duration.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails transiently and is scheduled
// for another attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDeferred is called when a job is put back without consuming an
// attempt: its capability is disabled, its dependency's circuit is
// open, its idempotency key is held by another executor, or the job
// cannot be served right now for an infrastructure reason. reason is
// one of "capability_disabled", "circuit_open", "key_in_progress",
// "no_handler" or "dlq_unavailable".
type JobDeferred interface {
	OnJobDeferred(ctx context.Context, j *job.Job, reason string) error
}

// JobDLQ is called when a job is moved to the dead letter store.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error
}

// BackpressureRejected is called when the scheduler rejects an enqueue
// because the tenant's burst bucket is empty at the queue ceiling.
type BackpressureRejected interface {
	OnBackpressureRejected(ctx context.Context, queue, tenantID string) error
}

// BreakerTransition is called on every circuit breaker state change.
type BreakerTransition interface {
	OnBreakerTransition(ctx context.Context, dependency string, from, to breaker.State) error
}

// Shutdown is called during graceful shutdown, after the worker pools
// have drained.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
