package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Priority determines dequeue ordering within a tenant.
	// Lower values run sooner.
	Priority int

	// MaxAttempts is the retry budget before the job is dead-lettered.
	// Deferred executions (capability disabled, circuit open) never
	// count against it.
	MaxAttempts int

	// IdempotencyKey, when set, guarantees the handler runs at most once
	// for all jobs sharing the key.
	IdempotencyKey string

	// NotBefore delays the job's first eligibility. Zero means
	// immediately eligible.
	NotBefore time.Time

	// Timeout overrides the core-wide handler deadline for this job.
	// Zero means use the configured default.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    0,
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring an enqueued job.
type Option func(*Options)

// WithPriority sets the job priority. Lower values run sooner.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxAttempts sets the retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithIdempotencyKey sets the at-most-once execution key.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) { o.IdempotencyKey = key }
}

// WithNotBefore delays the job until the given time.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) { o.NotBefore = t }
}

// WithTimeout sets a per-job handler deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
