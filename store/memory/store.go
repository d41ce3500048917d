// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/idempotency"
	"github.com/leftonspace/conduit/override"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ dlq.Store         = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ override.Store    = (*Store)(nil)
)

// Store is an in-memory implementation of every subsystem store.
type Store struct {
	mu sync.RWMutex

	dlqs      map[string]*dlq.Entry
	keys      map[string]*idempotency.Record
	overrides map[string]*override.Override // key: "capability:scope"
	closed    bool

	// now is the clock, swappable in tests for TTL expiry.
	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		dlqs:      make(map[string]*dlq.Entry),
		keys:      make(map[string]*idempotency.Record),
		overrides: make(map[string]*override.Override),
		now:       time.Now,
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds until Close, then reports [conduit.ErrStoreClosed].
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return conduit.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. The data stays readable so late log
// lines and tests can still inspect it.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ persists a new dead letter entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conduit.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDLQ returns entries matching the options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].FinalizedAt.After(matched[k].FinalizedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*dlq.Entry, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// MarkReplayedDLQ atomically sets ReplayedAt on an unreplayed entry.
func (m *Store) MarkReplayedDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conduit.ErrDLQNotFound
	}
	if e.ReplayedAt != nil {
		return conduit.ErrAlreadyReplayed
	}
	t := at
	e.ReplayedAt = &t
	return nil
}

// PurgeDLQ removes a single entry by ID.
func (m *Store) PurgeDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dlqs[entryID.String()]; !ok {
		return conduit.ErrDLQNotFound
	}
	delete(m.dlqs, entryID.String())
	return nil
}

// PurgeDLQBefore removes entries finalized before the given time.
func (m *Store) PurgeDLQBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FinalizedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the total number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// ClaimKey atomically claims the key for ttl. The whole check-and-set
// happens under one lock acquisition, so two racing claims can never
// both see Claimed.
func (m *Store) ClaimKey(_ context.Context, key string, ttl time.Duration) (idempotency.ClaimOutcome, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec, ok := m.keys[key]
	if ok && !rec.Expired(now) {
		if rec.State == idempotency.StateResolved {
			return idempotency.AlreadyResolved, rec.Result, nil
		}
		return idempotency.InProgress, nil, nil
	}

	// Absent or expired: fresh claim.
	m.keys[key] = &idempotency.Record{
		Key:       key,
		State:     idempotency.StateInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return idempotency.Claimed, nil, nil
}

// ResolveKey stores the cached result for a claimed key.
func (m *Store) ResolveKey(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.keys[key]
	if !ok {
		return conduit.ErrKeyNotFound
	}
	rec.State = idempotency.StateResolved
	rec.Result = result
	return nil
}

// ReleaseKey frees a claimed key.
func (m *Store) ReleaseKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}

// ──────────────────────────────────────────────────
// Override Store
// ──────────────────────────────────────────────────

func overrideKey(capability, scope string) string {
	return capability + ":" + scope
}

// SetOverride creates or replaces the override for its pair.
func (m *Store) SetOverride(_ context.Context, o *override.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.overrides[overrideKey(o.Capability, o.Scope)] = &cp
	return nil
}

// GetOverride retrieves the override for a pair.
func (m *Store) GetOverride(_ context.Context, capability, scope string) (*override.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.overrides[overrideKey(capability, scope)]
	if !ok {
		return nil, conduit.ErrOverrideNotFound
	}
	cp := *o
	return &cp, nil
}

// ListOverrides returns all overrides, expired ones included.
func (m *Store) ListOverrides(_ context.Context) ([]*override.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*override.Override, 0, len(m.overrides))
	for _, o := range m.overrides {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Capability != out[k].Capability {
			return out[i].Capability < out[k].Capability
		}
		return out[i].Scope < out[k].Scope
	})
	return out, nil
}

// DeleteOverride removes the override for a pair.
func (m *Store) DeleteOverride(_ context.Context, capability, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := overrideKey(capability, scope)
	if _, ok := m.overrides[key]; !ok {
		return conduit.ErrOverrideNotFound
	}
	delete(m.overrides, key)
	return nil
}
