package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/backoff"
	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/degrade"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/idempotency"
	"github.com/leftonspace/conduit/job"
	"github.com/leftonspace/conduit/middleware"
	"github.com/leftonspace/conduit/override"
	"github.com/leftonspace/conduit/sched"
)

// Defer reasons reported through ext.JobDeferred.
const (
	ReasonCapabilityDisabled = "capability_disabled"
	ReasonCircuitOpen        = "circuit_open"
	ReasonKeyInProgress      = "key_in_progress"
	ReasonNoHandler          = "no_handler"
	ReasonDLQUnavailable     = "dlq_unavailable"
)

// FallbackFunc runs a degraded substitute for a handler when the
// degradation manager decides Fallback. The action string is the rule's
// configured fallback action.
type FallbackFunc func(ctx context.Context, j *job.Job, action string) ([]byte, error)

// Deps are the collaborators an Executor drives. Handlers, Scheduler and
// Breakers are required. The rest may be nil: a nil Overrides never
// disables anything, a nil Keys skips idempotency, a nil DLQ logs dead
// jobs instead of storing them.
type Deps struct {
	Handlers  *job.Registry
	Scheduler *sched.Scheduler
	Breakers  *breaker.Registry
	Overrides *override.Registry
	Degrade   *degrade.Manager
	Keys      *idempotency.Service
	DLQ       *dlq.Service
	Hooks     *ext.Registry
}

// Executor runs one job through the full execution pipeline: capability
// override check, circuit breaker admission, idempotency claim, handler
// invocation via the middleware chain, and outcome routing (ack, retry
// with backoff, or dead letter).
//
// Deferred jobs (disabled capability, open breaker, contended key) are
// returned to the scheduler without consuming a retry attempt.
type Executor struct {
	deps     Deps
	chain    middleware.Middleware
	policy   backoff.Policy
	fallback FallbackFunc
	logger   *slog.Logger

	recheckInterval time.Duration
	claimRetryDelay time.Duration

	// now is the clock, swappable in tests.
	now func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMiddleware sets the middleware chain wrapped around every handler
// invocation. The first middleware is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.chain = middleware.Chain(mws...) }
}

// WithBackoff sets the retry policy for transient failures.
func WithBackoff(p backoff.Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithFallback sets the function invoked when degradation rules decide
// Fallback. Without one, Fallback degrades to Defer.
func WithFallback(f FallbackFunc) Option {
	return func(e *Executor) { e.fallback = f }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithRecheckInterval sets the delay before a deferred job is retried.
func WithRecheckInterval(d time.Duration) Option {
	return func(e *Executor) { e.recheckInterval = d }
}

// WithClaimRetryDelay sets the short backoff used when a job's
// idempotency key is held in-progress by another executor.
func WithClaimRetryDelay(d time.Duration) Option {
	return func(e *Executor) { e.claimRetryDelay = d }
}

// NewExecutor creates an executor over the given collaborators.
func NewExecutor(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:            deps,
		policy:          backoff.Default(),
		logger:          slog.Default(),
		recheckInterval: 30 * time.Second,
		claimRetryDelay: 500 * time.Millisecond,
		now:             time.Now,
	}
	if e.deps.Degrade == nil {
		e.deps.Degrade = degrade.NewManager()
	}
	if e.deps.Hooks == nil {
		e.deps.Hooks = ext.NewRegistry(nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute processes one ACTIVE job owned by the caller. It always
// settles the job's scheduler ownership (Ack or Nack) before returning.
// The returned error is the classified handler failure for failed jobs
// and the wrapped defer cause ([conduit.ErrCircuitOpen],
// [conduit.ErrCapabilityDisabled], [conduit.ErrKeyInProgress],
// [conduit.ErrNoHandler]) for deferrals; success returns nil.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.deps.Handlers.Get(j.Queue)
	if !ok {
		// A missing handler is a wiring problem, not the job's fault.
		// Park the job so it survives until the handler is registered.
		e.logger.Error("no handler registered for queue",
			"queue", j.Queue, "job_id", j.ID)
		return e.deferJob(ctx, j, ReasonNoHandler, conduit.ErrNoHandler, e.recheckInterval)
	}

	var brk *breaker.Breaker
	if j.Dependency != "" {
		brk = e.deps.Breakers.Get(j.Dependency)
	}

	// Operator override: a disabled capability degrades the job before
	// anything else runs.
	if brk != nil && e.deps.Overrides != nil &&
		e.deps.Overrides.IsDisabled(ctx, j.Dependency, j.TenantID) {
		out := e.deps.Degrade.Decide(j.Dependency, true, brk.State())
		if out.Decision != degrade.Proceed {
			return e.degraded(ctx, j, out, ReasonCapabilityDisabled, conduit.ErrCapabilityDisabled)
		}
	}

	// Claim the idempotency key before consulting the breaker: a
	// duplicate of an already resolved job must be acknowledged from the
	// cache even while the dependency's breaker is open.
	claimed := false
	if e.deps.Keys != nil && j.IdempotencyKey != "" {
		outcome, cached, err := e.deps.Keys.Claim(ctx, j.IdempotencyKey)
		if err != nil {
			e.logger.Error("idempotency claim failed",
				"job_id", j.ID, "key", j.IdempotencyKey, "error", err)
			return e.deferJob(ctx, j, ReasonKeyInProgress, err, e.claimRetryDelay)
		}
		switch outcome {
		case idempotency.AlreadyResolved:
			// Duplicate delivery: settle with the cached result, never
			// invoke the handler.
			return e.complete(ctx, j, cached, false, false, nil, 0)
		case idempotency.InProgress:
			return e.deferJob(ctx, j, ReasonKeyInProgress, conduit.ErrKeyInProgress, e.claimRetryDelay)
		case idempotency.Claimed:
			claimed = true
		}
	}

	trial := false
	if brk != nil {
		switch brk.Allow() {
		case breaker.Reject:
			e.releaseKey(ctx, j, claimed)
			out := e.deps.Degrade.Decide(j.Dependency, false, breaker.Open)
			return e.degraded(ctx, j, out, ReasonCircuitOpen, conduit.ErrCircuitOpen)
		case breaker.Trial:
			trial = true
		}
	}

	start := e.now()
	result, err := e.invoke(ctx, j, handler)
	elapsed := e.now().Sub(start)

	if err == nil {
		return e.complete(ctx, j, result, claimed, trial, brk, elapsed)
	}
	return e.fail(ctx, j, conduit.Classify(err), claimed, trial, brk)
}

// invoke runs the handler through the middleware chain.
func (e *Executor) invoke(ctx context.Context, j *job.Job, handler job.HandlerFunc) ([]byte, error) {
	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j)
	}
	if e.chain == nil {
		return terminal(ctx)
	}
	return e.chain(ctx, j, terminal)
}

// complete settles a successful execution: resolve the idempotency key,
// inform the breaker, ack the job and emit the completion hook.
func (e *Executor) complete(ctx context.Context, j *job.Job, result []byte, claimed, trial bool, brk *breaker.Breaker, elapsed time.Duration) error {
	if claimed {
		if err := e.deps.Keys.Resolve(ctx, j.IdempotencyKey, result); err != nil {
			e.logger.Error("idempotency resolve failed",
				"job_id", j.ID, "key", j.IdempotencyKey, "error", err)
		}
	}
	if brk != nil {
		brk.RecordSuccess(trial)
	}
	now := e.now()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	if err := e.deps.Scheduler.Ack(j.ID.String()); err != nil {
		return fmt.Errorf("ack completed job: %w", err)
	}
	e.deps.Hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// fail routes a classified failure: transient failures consume an
// attempt and retry with backoff until exhausted; permanent failures
// and exhausted jobs go to the dead letter store.
func (e *Executor) fail(ctx context.Context, j *job.Job, f *conduit.Failure, claimed, trial bool, brk *breaker.Breaker) error {
	if brk != nil {
		if f.DependencyFault {
			brk.RecordFailure(trial)
		} else if trial {
			// The trial call reached the dependency and failed for the
			// job's own reasons; the dependency itself is healthy.
			brk.RecordSuccess(trial)
		}
	}

	j.Attempts++
	j.RecordFailure(f, e.now())
	e.releaseKey(ctx, j, claimed)

	if f.Class == conduit.ClassPermanent || j.Exhausted() || !e.policy.Retryable() {
		return e.deadLetter(ctx, j, f)
	}

	delay := e.policy.Delay(j.Attempts)
	nextRunAt := e.now().Add(delay)
	j.Status = job.StatusRetryable
	if err := e.deps.Scheduler.Nack(j.ID.String(), nextRunAt); err != nil {
		return fmt.Errorf("nack for retry: %w", err)
	}
	e.deps.Hooks.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)
	return f
}

// deadLetter moves the job to the dead letter store and releases its
// scheduler slot.
func (e *Executor) deadLetter(ctx context.Context, j *job.Job, f *conduit.Failure) error {
	j.Status = job.StatusDead
	if e.deps.DLQ != nil {
		if _, err := e.deps.DLQ.Record(ctx, j); err != nil {
			// A job that cannot be recorded must not be dropped: park it
			// and retry the dead letter write later.
			e.logger.Error("dead letter record failed",
				"job_id", j.ID, "error", err)
			return e.deferJob(ctx, j, ReasonDLQUnavailable, err, e.recheckInterval)
		}
	} else {
		e.logger.Error("job dead with no dead letter store",
			"job_id", j.ID, "error", f)
	}
	if err := e.deps.Scheduler.Ack(j.ID.String()); err != nil {
		return fmt.Errorf("ack dead job: %w", err)
	}
	e.deps.Hooks.EmitJobDLQ(ctx, j, f)
	return f
}

// degraded routes a degradation outcome for a job that was blocked
// before its handler ran. No retry attempt is consumed on Defer or
// Fallback; cause is the sentinel naming the blocking condition.
func (e *Executor) degraded(ctx context.Context, j *job.Job, out degrade.Outcome, reason string, cause error) error {
	switch out.Decision {
	case degrade.Fallback:
		if e.fallback != nil {
			result, err := e.fallback(ctx, j, out.Action)
			if err == nil {
				return e.complete(ctx, j, result, false, false, nil, 0)
			}
			e.logger.Warn("fallback failed, deferring",
				"job_id", j.ID, "action", out.Action, "error", err)
		}
		return e.deferJob(ctx, j, reason, cause, e.recheckInterval)
	case degrade.FailFast:
		f := &conduit.Failure{
			Class: conduit.ClassPermanent,
			Kind:  conduit.KindUnavailable,
			Err:   fmt.Errorf("%s: %w", j.Dependency, cause),
		}
		j.Attempts++
		j.RecordFailure(f, e.now())
		return e.deadLetter(ctx, j, f)
	default:
		return e.deferJob(ctx, j, reason, cause, e.recheckInterval)
	}
}

// deferJob returns the job to the scheduler, eligible again after delay,
// without consuming a retry attempt. The returned error wraps cause so
// callers can tell deferrals apart with errors.Is.
func (e *Executor) deferJob(ctx context.Context, j *job.Job, reason string, cause error, delay time.Duration) error {
	if err := e.deps.Scheduler.Nack(j.ID.String(), e.now().Add(delay)); err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	e.deps.Hooks.EmitJobDeferred(ctx, j, reason)
	return fmt.Errorf("job %s deferred: %w", j.ID, cause)
}

func (e *Executor) releaseKey(ctx context.Context, j *job.Job, claimed bool) {
	if !claimed {
		return
	}
	if err := e.deps.Keys.Release(ctx, j.IdempotencyKey); err != nil {
		e.logger.Error("idempotency release failed",
			"job_id", j.ID, "key", j.IdempotencyKey, "error", err)
	}
}
