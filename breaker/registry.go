package breaker

import (
	"sort"
	"sync"
)

// Registry hands out the single authoritative Breaker per dependency.
// It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	defaults     Config
	configs      map[string]Config
	onTransition TransitionFunc
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaults sets the config applied to dependencies without a
// specific one.
func WithDefaults(cfg Config) RegistryOption {
	return func(r *Registry) { r.defaults = cfg }
}

// WithDependencyConfig sets a per-dependency config, overriding defaults.
func WithDependencyConfig(dependency string, cfg Config) RegistryOption {
	return func(r *Registry) { r.configs[dependency] = cfg }
}

// WithTransitionHook sets the callback invoked on every breaker state
// change. Used by the engine to emit metrics events.
func WithTransitionHook(fn TransitionFunc) RegistryOption {
	return func(r *Registry) { r.onTransition = fn }
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		defaults: DefaultConfig(),
		configs:  make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the dependency, creating it on first use.
// Repeated calls with the same name return the same instance.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[dependency]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[dependency]; ok {
		return b
	}
	cfg, ok := r.configs[dependency]
	if !ok {
		cfg = r.defaults
	}
	b = New(dependency, cfg)
	b.onTransition = r.onTransition
	r.breakers[dependency] = b
	return b
}

// Statuses returns a snapshot of every breaker, sorted by dependency
// name for deterministic operator output.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Dependency < out[k].Dependency
	})
	return out
}
