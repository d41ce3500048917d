package override

import (
	"context"
	"time"

	"github.com/leftonspace/conduit/id"
)

// ScopeGlobal is the scope value for overrides that apply to every
// tenant. Any other scope value is a tenant ID.
const ScopeGlobal = "global"

// Override force-disables (or re-enables) a named capability for a
// scope. Created and mutated only through the admin surface.
type Override struct {
	ID         id.OverrideID `json:"id"`
	Capability string        `json:"capability"`
	Scope      string        `json:"scope"`
	Disabled   bool          `json:"disabled"`
	Reason     string        `json:"reason,omitempty"`
	SetBy      string        `json:"set_by,omitempty"`
	ExpiresAt  time.Time     `json:"expires_at,omitzero"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Expired reports whether the override's expiry has passed.
func (o *Override) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Store defines the persistence contract for capability overrides.
// At most one override exists per (capability, scope) pair; setting a
// pair again replaces it.
type Store interface {
	// SetOverride creates or replaces the override for its
	// (capability, scope) pair.
	SetOverride(ctx context.Context, o *Override) error

	// GetOverride retrieves the override for a pair. Returns
	// conduit.ErrOverrideNotFound when absent.
	GetOverride(ctx context.Context, capability, scope string) (*Override, error)

	// ListOverrides returns all overrides, expired ones included; the
	// registry filters expiry at read time.
	ListOverrides(ctx context.Context) ([]*Override, error)

	// DeleteOverride removes the override for a pair.
	DeleteOverride(ctx context.Context, capability, scope string) error
}
