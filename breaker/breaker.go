// Package breaker implements per-dependency circuit breakers with a
// rolling failure window, exponential cooldown growth, and single-trial
// half-open probing.
//
// One authoritative Breaker exists per external dependency, shared by all
// executors through a Registry. Per-executor breakers would let N
// executors each independently retry against a known-dead dependency, so
// the Registry hands out the same instance for the same dependency name.
//
// State reads (Allow) are lock-free atomic loads on the hot path; state
// writes (RecordSuccess, RecordFailure, transitions) are serialized under
// a mutex with O(1) critical sections.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the breaker's admission state.
type State int32

const (
	// Closed is the normal state: calls flow, failures are tracked in a
	// rolling window.
	Closed State = iota
	// Open rejects all calls until the cooldown elapses.
	Open
	// HalfOpen allows exactly one in-flight trial call at a time.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Decision is the admission outcome for a single call.
type Decision int

const (
	// Allow admits the call normally.
	Allow Decision = iota
	// Reject refuses the call; the job should be deferred without
	// consuming a retry attempt.
	Reject
	// Trial admits the call as the half-open probe. The caller must
	// report the outcome with trial=true so the breaker can close or
	// re-open accordingly.
	Trial
)

// Config tunes a single breaker.
type Config struct {
	// FailureThreshold is the number of dependency-caused failures
	// within Window that trips the breaker open.
	FailureThreshold int

	// Window is the rolling time window over which failures are counted.
	// Sparse failures older than the window never trip the breaker.
	Window time.Duration

	// Cooldown is the initial open duration before a half-open trial.
	Cooldown time.Duration

	// MaxCooldown caps the exponential cooldown growth applied after
	// each failed trial.
	MaxCooldown time.Duration
}

// DefaultConfig returns breaker defaults: 5 failures in 60s opens,
// 30s initial cooldown doubling up to 10m.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	}
}

// windowBuckets is the number of time buckets the rolling window is
// divided into. More buckets means finer expiry granularity.
const windowBuckets = 6

// bucket counts failures within one slice of the rolling window.
type bucket struct {
	start time.Time
	count int
}

// TransitionFunc is notified of state changes: dependency name, previous
// and new state. Called outside the breaker's lock is not guaranteed;
// implementations must be fast and non-blocking.
type TransitionFunc func(dependency string, from, to State)

// Breaker tracks recent failures for one dependency and decides whether
// calls may proceed.
type Breaker struct {
	name  string
	cfg   Config
	state atomic.Int32

	mu            sync.Mutex
	buckets       [windowBuckets]bucket
	openedAt      time.Time
	cooldown      time.Duration
	trialInFlight bool

	onTransition TransitionFunc

	// now is the clock, swappable in tests.
	now func() time.Time
}

// New creates a breaker for the named dependency.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = DefaultConfig().MaxCooldown
	}
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
	b.state.Store(int32(Closed))
	return b
}

// Name returns the dependency name this breaker governs.
func (b *Breaker) Name() string { return b.name }

// State returns the current state via a lock-free atomic read.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Allow returns the admission decision for one call. In the Open state it
// also performs the cooldown-elapsed transition to HalfOpen, so callers
// never observe a stale Open past its cooldown.
func (b *Breaker) Allow() Decision {
	switch b.State() {
	case Closed:
		return Allow
	case Open, HalfOpen:
		// Fall through to the slow path under the lock: the cooldown
		// check and the single-trial guard both need serialization.
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case Closed:
		// Raced with a close; admit.
		return Allow
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return Reject
		}
		b.transition(Open, HalfOpen)
		b.trialInFlight = true
		return Trial
	case HalfOpen:
		if b.trialInFlight {
			return Reject
		}
		b.trialInFlight = true
		return Trial
	default:
		return Reject
	}
}

// RecordSuccess informs the breaker of a successful call. A successful
// half-open trial closes the breaker and resets the cooldown to base.
func (b *Breaker) RecordSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}
	if b.State() == HalfOpen && trial {
		b.resetWindow()
		b.cooldown = b.cfg.Cooldown
		b.transition(HalfOpen, Closed)
	}
}

// RecordFailure informs the breaker of a dependency-caused failure.
// In Closed it counts toward the rolling window and may trip the breaker.
// A failed half-open trial re-opens with an exponentially larger cooldown.
func (b *Breaker) RecordFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if trial {
		b.trialInFlight = false
	}

	switch b.State() {
	case HalfOpen:
		if !trial {
			return
		}
		// Failed probe: back off harder.
		b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		b.openedAt = now
		b.transition(HalfOpen, Open)
	case Closed:
		b.record(now)
		if b.windowCount(now) >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(Closed, Open)
		}
	case Open:
		// Late failure from a call admitted before the trip; nothing to do.
	}
}

// Status is a point-in-time snapshot for the operator surface.
type Status struct {
	Dependency   string        `json:"dependency"`
	State        State         `json:"state"`
	FailureCount int           `json:"failure_count"`
	OpenedAt     time.Time     `json:"opened_at,omitzero"`
	Cooldown     time.Duration `json:"cooldown"`
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Dependency:   b.name,
		State:        b.State(),
		FailureCount: b.windowCount(b.now()),
		OpenedAt:     b.openedAt,
		Cooldown:     b.cooldown,
	}
}

// transition flips the atomic state and notifies the hook.
// Caller holds b.mu.
func (b *Breaker) transition(from, to State) {
	b.state.Store(int32(to))
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// record adds one failure to the bucket covering now.
// Caller holds b.mu.
func (b *Breaker) record(now time.Time) {
	width := b.cfg.Window / windowBuckets
	idx := int(now.UnixNano()/int64(width)) % windowBuckets
	start := now.Truncate(width)
	if !b.buckets[idx].start.Equal(start) {
		b.buckets[idx] = bucket{start: start}
	}
	b.buckets[idx].count++
}

// windowCount sums failures still inside the rolling window.
// Caller holds b.mu.
func (b *Breaker) windowCount(now time.Time) int {
	cutoff := now.Add(-b.cfg.Window)
	total := 0
	for _, bk := range b.buckets {
		if bk.start.After(cutoff) {
			total += bk.count
		}
	}
	return total
}

// resetWindow clears all failure buckets. Caller holds b.mu.
func (b *Breaker) resetWindow() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}
