package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
)

// DefaultCacheTTL bounds how stale a cached override read may be.
// Executors consult the registry on every job, so reads must not hit
// the store each time; 2s keeps operator toggles near-immediate while
// capping store load.
const DefaultCacheTTL = 2 * time.Second

// Registry serves capability override lookups from a short-TTL cache
// over a Store. Safe for concurrent use.
type Registry struct {
	store    Store
	cacheTTL time.Duration

	mu        sync.RWMutex
	cache     map[string]*Override
	fetchedAt time.Time

	// now is the clock, swappable in tests.
	now func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCacheTTL overrides the default read-cache TTL.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.cacheTTL = ttl }
}

// NewRegistry creates an override registry over the store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cacheKey(capability, scope string) string {
	return capability + "\x00" + scope
}

// IsDisabled reports whether the capability is force-disabled for the
// tenant. A tenant-scoped override wins over a global one; expired
// overrides count as absent. Lookup errors fail open (not disabled) so
// a store outage cannot halt all job processing by itself.
func (r *Registry) IsDisabled(ctx context.Context, capability, tenantID string) bool {
	snapshot, err := r.snapshot(ctx)
	if err != nil {
		return false
	}

	now := r.now()
	if tenantID != "" {
		if o, ok := snapshot[cacheKey(capability, tenantID)]; ok && !o.Expired(now) {
			return o.Disabled
		}
	}
	if o, ok := snapshot[cacheKey(capability, ScopeGlobal)]; ok && !o.Expired(now) {
		return o.Disabled
	}
	return false
}

// Get returns the effective override for a capability and tenant,
// applying the same tenant-wins and expiry rules as IsDisabled.
// Returns conduit.ErrOverrideNotFound when no live override applies.
func (r *Registry) Get(ctx context.Context, capability, tenantID string) (*Override, error) {
	snapshot, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if tenantID != "" {
		if o, ok := snapshot[cacheKey(capability, tenantID)]; ok && !o.Expired(now) {
			return o, nil
		}
	}
	if o, ok := snapshot[cacheKey(capability, ScopeGlobal)]; ok && !o.Expired(now) {
		return o, nil
	}
	return nil, conduit.ErrOverrideNotFound
}

// SetOverride writes through the store and refreshes the cache so the
// change is visible to local readers immediately.
func (r *Registry) SetOverride(ctx context.Context, capability, scope string, disabled bool, reason, setBy string, expiresAt time.Time) (*Override, error) {
	if capability == "" {
		return nil, errors.New("set override: capability is required")
	}
	if scope == "" {
		scope = ScopeGlobal
	}

	now := r.now().UTC()
	o := &Override{
		ID:         id.NewOverrideID(),
		Capability: capability,
		Scope:      scope,
		Disabled:   disabled,
		Reason:     reason,
		SetBy:      setBy,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.SetOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("set override %s/%s: %w", capability, scope, err)
	}
	r.invalidate()
	return o, nil
}

// ClearOverride removes the override for a (capability, scope) pair.
func (r *Registry) ClearOverride(ctx context.Context, capability, scope string) error {
	if scope == "" {
		scope = ScopeGlobal
	}
	if err := r.store.DeleteOverride(ctx, capability, scope); err != nil {
		return fmt.Errorf("clear override %s/%s: %w", capability, scope, err)
	}
	r.invalidate()
	return nil
}

// List returns all live (unexpired) overrides for the admin surface.
func (r *Registry) List(ctx context.Context) ([]*Override, error) {
	all, err := r.store.ListOverrides(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	live := all[:0]
	for _, o := range all {
		if !o.Expired(now) {
			live = append(live, o)
		}
	}
	return live, nil
}

// snapshot returns the cached override map, refreshing it from the
// store when stale.
func (r *Registry) snapshot(ctx context.Context) (map[string]*Override, error) {
	r.mu.RLock()
	if r.cache != nil && r.now().Sub(r.fetchedAt) < r.cacheTTL {
		c := r.cache
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil && r.now().Sub(r.fetchedAt) < r.cacheTTL {
		return r.cache, nil
	}

	all, err := r.store.ListOverrides(ctx)
	if err != nil {
		// Serve the stale cache if there is one rather than failing
		// every in-flight lookup during a store blip.
		if r.cache != nil {
			return r.cache, nil
		}
		return nil, err
	}

	fresh := make(map[string]*Override, len(all))
	for _, o := range all {
		fresh[cacheKey(o.Capability, o.Scope)] = o
	}
	r.cache = fresh
	r.fetchedAt = r.now()
	return fresh, nil
}

// invalidate drops the cache so the next read refreshes from the store.
func (r *Registry) invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}
