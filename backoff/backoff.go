// Package backoff provides per-queue and per-dependency retry policies.
// A Policy is a small tagged variant (exponential, fixed, none) attached
// to queue or dependency configuration and passed into the worker pool.
// Policies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Kind selects the retry delay curve.
type Kind string

const (
	// Exponential grows the delay as Base * 2^attempt with ± jitter of
	// up to one Base, capped at Max. The jitter spreads simultaneous
	// retries so a recovering dependency is not hit by a thundering herd.
	Exponential Kind = "exponential"

	// Fixed always waits Base between attempts.
	Fixed Kind = "fixed"

	// None disables retries entirely: the first transient failure
	// dead-letters the job.
	None Kind = "none"
)

// Policy computes the delay before a retry attempt.
type Policy struct {
	Kind Kind
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential policy with jitter.
func NewExponential(base, maxDelay time.Duration) Policy {
	return Policy{Kind: Exponential, Base: base, Max: maxDelay}
}

// NewFixed creates a fixed-interval policy.
func NewFixed(interval time.Duration) Policy {
	return Policy{Kind: Fixed, Base: interval}
}

// NewNone creates a no-retry policy.
func NewNone() Policy {
	return Policy{Kind: None}
}

// Default returns the policy used when a queue has none configured:
// exponential with 1s base and 5m cap.
func Default() Policy {
	return NewExponential(1*time.Second, 5*time.Minute)
}

// Retryable reports whether this policy permits retries at all.
func (p Policy) Retryable() bool {
	return p.Kind != None
}

// Delay returns how long to wait before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
func (p Policy) Delay(attempt int) time.Duration {
	switch p.Kind {
	case Fixed:
		return p.Base
	case None:
		return 0
	case Exponential:
		// Base * 2^attempt ± random(0, Base), capped.
		d := float64(p.Base) * math.Pow(2, float64(attempt))
		jitter := rand.Float64() * float64(p.Base) //nolint:gosec // jitter intentionally uses non-crypto rand
		if rand.IntN(2) == 0 {                     //nolint:gosec // ditto
			d += jitter
		} else {
			d -= jitter
		}
		if p.Max > 0 && d > float64(p.Max) {
			d = float64(p.Max)
		}
		if d < 0 {
			d = 0
		}
		return time.Duration(d)
	default:
		return p.Base
	}
}
