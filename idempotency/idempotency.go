package idempotency

import (
	"context"
	"time"
)

// State is the lifecycle state of an idempotency record.
type State string

const (
	// StateInProgress marks a key claimed by an executor that has not
	// yet resolved or released it.
	StateInProgress State = "in_progress"
	// StateResolved marks a key whose execution completed; Result holds
	// the cached outcome.
	StateResolved State = "resolved"
)

// Record is the durable state for one idempotency key.
type Record struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Result    []byte    `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record's TTL has passed at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ClaimOutcome is the result of an atomic claim attempt.
type ClaimOutcome int

const (
	// Claimed means the caller now owns the key and must execute, then
	// Resolve or Release.
	Claimed ClaimOutcome = iota
	// AlreadyResolved means a previous execution completed; the claim
	// returns the cached result and the caller skips the handler.
	AlreadyResolved
	// InProgress means another executor currently owns the key.
	InProgress
)

// String returns the lowercase outcome name.
func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyResolved:
		return "already_resolved"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Store defines the persistence contract for idempotency records.
// ClaimKey must be atomic at the storage layer: a single check-and-set
// round-trip, never a read followed by a write.
type Store interface {
	// ClaimKey atomically claims the key for ttl. An expired record
	// behaves as absent. The returned result is non-nil only for
	// AlreadyResolved.
	ClaimKey(ctx context.Context, key string, ttl time.Duration) (ClaimOutcome, []byte, error)

	// ResolveKey stores the cached result for a claimed key, keeping the
	// original TTL.
	ResolveKey(ctx context.Context, key string, result []byte) error

	// ReleaseKey frees a claimed key after an unrecoverable failure so
	// it does not stay poisoned as in-progress.
	ReleaseKey(ctx context.Context, key string) error
}

// Service wraps a Store with the configured TTL.
type Service struct {
	store Store
	ttl   time.Duration
}

// NewService creates an idempotency service. A non-positive ttl
// defaults to 24h, long enough to outlive all retries of payment and
// invoice operations.
func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, ttl: ttl}
}

// TTL returns the configured record lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Claim atomically claims the key.
func (s *Service) Claim(ctx context.Context, key string) (ClaimOutcome, []byte, error) {
	return s.store.ClaimKey(ctx, key, s.ttl)
}

// Resolve caches the result for a claimed key.
func (s *Service) Resolve(ctx context.Context, key string, result []byte) error {
	return s.store.ResolveKey(ctx, key, result)
}

// Release frees a claimed key.
func (s *Service) Release(ctx context.Context, key string) error {
	return s.store.ReleaseKey(ctx, key)
}
