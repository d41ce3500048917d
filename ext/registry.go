package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobDequeuedEntry struct {
	name string
	hook JobDequeued
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeferredEntry struct {
	name string
	hook JobDeferred
}

type jobDLQEntry struct {
	name string
	hook JobDLQ
}

type backpressureEntry struct {
	name string
	hook BackpressureRejected
}

type breakerTransitionEntry struct {
	name string
	hook BreakerTransition
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued       []jobEnqueuedEntry
	jobDequeued       []jobDequeuedEntry
	jobCompleted      []jobCompletedEntry
	jobRetrying       []jobRetryingEntry
	jobDeferred       []jobDeferredEntry
	jobDLQ            []jobDLQEntry
	backpressure      []backpressureEntry
	breakerTransition []breakerTransitionEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobDequeued); ok {
		r.jobDequeued = append(r.jobDequeued, jobDequeuedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobDeferred); ok {
		r.jobDeferred = append(r.jobDeferred, jobDeferredEntry{name, h})
	}
	if h, ok := e.(JobDLQ); ok {
		r.jobDLQ = append(r.jobDLQ, jobDLQEntry{name, h})
	}
	if h, ok := e.(BackpressureRejected); ok {
		r.backpressure = append(r.backpressure, backpressureEntry{name, h})
	}
	if h, ok := e.(BreakerTransition); ok {
		r.breakerTransition = append(r.breakerTransition, breakerTransitionEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobDequeued notifies all extensions that implement JobDequeued.
func (r *Registry) EmitJobDequeued(ctx context.Context, j *job.Job, wait time.Duration) {
	for _, e := range r.jobDequeued {
		if err := e.hook.OnJobDequeued(ctx, j, wait); err != nil {
			r.logHookError("OnJobDequeued", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDeferred notifies all extensions that implement JobDeferred.
func (r *Registry) EmitJobDeferred(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobDeferred {
		if err := e.hook.OnJobDeferred(ctx, j, reason); err != nil {
			r.logHookError("OnJobDeferred", e.name, err)
		}
	}
}

// EmitJobDLQ notifies all extensions that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// EmitBackpressureRejected notifies all extensions that implement
// BackpressureRejected.
func (r *Registry) EmitBackpressureRejected(ctx context.Context, queue, tenantID string) {
	for _, e := range r.backpressure {
		if err := e.hook.OnBackpressureRejected(ctx, queue, tenantID); err != nil {
			r.logHookError("OnBackpressureRejected", e.name, err)
		}
	}
}

// EmitBreakerTransition notifies all extensions that implement
// BreakerTransition.
func (r *Registry) EmitBreakerTransition(ctx context.Context, dependency string, from, to breaker.State) {
	for _, e := range r.breakerTransition {
		if err := e.hook.OnBreakerTransition(ctx, dependency, from, to); err != nil {
			r.logHookError("OnBreakerTransition", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
