package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/override"
)

// SetOverride creates or replaces the override for its pair.
func (s *Store) SetOverride(ctx context.Context, o *override.Override) error {
	var expiresAt *time.Time
	if !o.ExpiresAt.IsZero() {
		t := o.ExpiresAt
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduit_overrides (
			capability, scope, id, disabled, reason, set_by,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (capability, scope) DO UPDATE SET
			id = EXCLUDED.id,
			disabled = EXCLUDED.disabled,
			reason = EXCLUDED.reason,
			set_by = EXCLUDED.set_by,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		o.Capability, o.Scope, o.ID.String(), o.Disabled, o.Reason, o.SetBy,
		expiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: set override: %w", err)
	}
	return nil
}

// GetOverride retrieves the override for a pair.
func (s *Store) GetOverride(ctx context.Context, capability, scope string) (*override.Override, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT capability, scope, id, disabled, reason, set_by,
			expires_at, created_at, updated_at
		FROM conduit_overrides
		WHERE capability = $1 AND scope = $2`,
		capability, scope,
	)

	o, err := scanOverride(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduit.ErrOverrideNotFound
		}
		return nil, fmt.Errorf("conduit/postgres: get override: %w", err)
	}
	return o, nil
}

// ListOverrides returns all overrides, expired ones included.
func (s *Store) ListOverrides(ctx context.Context) ([]*override.Override, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT capability, scope, id, disabled, reason, set_by,
			expires_at, created_at, updated_at
		FROM conduit_overrides
		ORDER BY capability, scope`,
	)
	if err != nil {
		return nil, fmt.Errorf("conduit/postgres: list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*override.Override
	for rows.Next() {
		o, scanErr := scanOverride(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conduit/postgres: scan override row: %w", scanErr)
		}
		overrides = append(overrides, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conduit/postgres: iterate override rows: %w", err)
	}
	return overrides, nil
}

// DeleteOverride removes the override for a pair.
func (s *Store) DeleteOverride(ctx context.Context, capability, scope string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conduit_overrides WHERE capability = $1 AND scope = $2`,
		capability, scope,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduit.ErrOverrideNotFound
	}
	return nil
}

// scanOverride scans a single override row.
func scanOverride(row pgx.Row) (*override.Override, error) {
	var (
		o         override.Override
		idStr     string
		expiresAt *time.Time
	)
	err := row.Scan(
		&o.Capability, &o.Scope, &idStr, &o.Disabled, &o.Reason, &o.SetBy,
		&expiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseOverrideID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conduit/postgres: parse override id %q: %w", idStr, parseErr)
	}
	o.ID = parsedID

	if expiresAt != nil {
		o.ExpiresAt = *expiresAt
	}
	return &o, nil
}
