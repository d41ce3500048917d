package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/idempotency"
)

// ClaimKey atomically claims the key for ttl. The whole claim is one
// statement: the INSERT takes a fresh or expired key, and the UNION
// branch surfaces the existing row when the insert loses, so two racing
// claims can never both see Claimed.
func (s *Store) ClaimKey(ctx context.Context, key string, ttl time.Duration) (idempotency.ClaimOutcome, []byte, error) {
	now := time.Now().UTC()

	// The CTE returns a row only when the insert or expired-row takeover
	// wins; the second branch reads the pre-statement snapshot, so the
	// ord column picks the claim over the stale row.
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			INSERT INTO conduit_idempotency (key, state, result, created_at, expires_at)
			VALUES ($1, 'in_progress', NULL, $2, $3)
			ON CONFLICT (key) DO UPDATE
				SET state = 'in_progress', result = NULL, created_at = $2, expires_at = $3
				WHERE conduit_idempotency.expires_at <= $2
			RETURNING 'claimed'::text AS state, NULL::bytea AS result, 0 AS ord
		)
		SELECT state, result, ord FROM claimed
		UNION ALL
		SELECT state, result, 1 AS ord FROM conduit_idempotency WHERE key = $1
		ORDER BY ord
		LIMIT 1`,
		key, now, now.Add(ttl),
	)

	var (
		state  string
		result []byte
		ord    int
	)
	if err := row.Scan(&state, &result, &ord); err != nil {
		if isNoRows(err) {
			// The row vanished mid-statement. Report the key as held and
			// let the caller's short deferral retry.
			return idempotency.InProgress, nil, nil
		}
		return 0, nil, fmt.Errorf("conduit/postgres: claim key: %w", err)
	}

	switch state {
	case "claimed":
		return idempotency.Claimed, nil, nil
	case string(idempotency.StateResolved):
		return idempotency.AlreadyResolved, result, nil
	default:
		return idempotency.InProgress, nil, nil
	}
}

// ResolveKey stores the cached result for a claimed key. The expiry set
// at claim time is left untouched.
func (s *Store) ResolveKey(ctx context.Context, key string, result []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conduit_idempotency SET state = 'resolved', result = $2 WHERE key = $1`,
		key, result,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: resolve key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduit.ErrKeyNotFound
	}
	return nil
}

// ReleaseKey frees a claimed key.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conduit_idempotency WHERE key = $1`,
		key,
	); err != nil {
		return fmt.Errorf("conduit/postgres: release key: %w", err)
	}
	return nil
}

// PurgeExpiredKeys removes idempotency records whose TTL has passed and
// returns how many were removed. Intended for a periodic maintenance
// job; claims treat expired rows as absent either way.
func (s *Store) PurgeExpiredKeys(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conduit_idempotency WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("conduit/postgres: purge expired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
