package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/override"
)

// SetOverride creates or replaces the override for its pair.
func (s *Store) SetOverride(ctx context.Context, o *override.Override) error {
	pair := o.Capability + ":" + o.Scope

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, overrideKey(o.Capability, o.Scope))
	pipe.HSet(ctx, overrideKey(o.Capability, o.Scope), overrideToMap(o))
	pipe.SAdd(ctx, overridePairsKey, pair)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduit/redis: set override: %w", err)
	}
	return nil
}

// GetOverride retrieves the override for a pair.
func (s *Store) GetOverride(ctx context.Context, capability, scope string) (*override.Override, error) {
	vals, err := s.client.HGetAll(ctx, overrideKey(capability, scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: get override: %w", err)
	}
	if len(vals) == 0 {
		return nil, conduit.ErrOverrideNotFound
	}
	return mapToOverride(vals)
}

// ListOverrides returns all overrides, expired ones included.
func (s *Store) ListOverrides(ctx context.Context) ([]*override.Override, error) {
	pairs, err := s.client.SMembers(ctx, overridePairsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: list overrides: %w", err)
	}

	out := make([]*override.Override, 0, len(pairs))
	for _, pair := range pairs {
		vals, getErr := s.client.HGetAll(ctx, keyPrefix+"override:"+pair).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		o, convErr := mapToOverride(vals)
		if convErr != nil {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// DeleteOverride removes the override for a pair.
func (s *Store) DeleteOverride(ctx context.Context, capability, scope string) error {
	pair := capability + ":" + scope
	exists, err := s.client.Exists(ctx, overrideKey(capability, scope)).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: delete override exists: %w", err)
	}
	if exists == 0 {
		return conduit.ErrOverrideNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, overrideKey(capability, scope))
	pipe.SRem(ctx, overridePairsKey, pair)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduit/redis: delete override: %w", err)
	}
	return nil
}

// ── helpers ──

func overrideToMap(o *override.Override) map[string]interface{} {
	m := map[string]interface{}{
		"id":         o.ID.String(),
		"capability": o.Capability,
		"scope":      o.Scope,
		"disabled":   strconv.FormatBool(o.Disabled),
		"reason":     o.Reason,
		"set_by":     o.SetBy,
		"created_at": o.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !o.ExpiresAt.IsZero() {
		m["expires_at"] = o.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToOverride(m map[string]string) (*override.Override, error) {
	oID, err := id.ParseOverrideID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: parse override id: %w", err)
	}
	disabled, _ := strconv.ParseBool(m["disabled"])               //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // ditto
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // ditto

	o := &override.Override{
		ID:         oID,
		Capability: m["capability"],
		Scope:      m["scope"],
		Disabled:   disabled,
		Reason:     m["reason"],
		SetBy:      m["set_by"],
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if v := m["expires_at"]; v != "" {
		o.ExpiresAt, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return o, nil
}
