package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// PushDLQ persists a new dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	history, err := json.Marshal(entry.FailureHistory)
	if err != nil {
		return fmt.Errorf("conduit/postgres: marshal failure history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conduit_dlq (
			id, job_id, queue, tenant_id, dependency, payload,
			priority, attempts, max_attempts, idempotency_key,
			last_error, failure_history, finalized_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID.String(), entry.JobID.String(), entry.Queue,
		entry.TenantID, entry.Dependency, entry.Payload,
		entry.Priority, entry.Attempts, entry.MaxAttempts, entry.IdempotencyKey,
		entry.LastError, history, entry.FinalizedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, job_id, queue, tenant_id, dependency, payload,
			priority, attempts, max_attempts, idempotency_key,
			last_error, failure_history, finalized_at, replayed_at, created_at
		FROM conduit_dlq
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduit.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conduit/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ListDLQ returns entries matching the options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `
		SELECT
			id, job_id, queue, tenant_id, dependency, payload,
			priority, attempts, max_attempts, idempotency_key,
			last_error, failure_history, finalized_at, replayed_at, created_at
		FROM conduit_dlq
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	if opts.Dependency != "" {
		query += fmt.Sprintf(" AND dependency = $%d", argIdx)
		args = append(args, opts.Dependency)
		argIdx++
	}
	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND finalized_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND finalized_at < $%d", argIdx)
		args = append(args, opts.Until)
		argIdx++
	}

	query += " ORDER BY finalized_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduit/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conduit/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conduit/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// MarkReplayedDLQ atomically sets ReplayedAt on an unreplayed entry.
// The WHERE clause makes the update succeed for exactly one caller.
func (s *Store) MarkReplayedDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conduit_dlq SET replayed_at = $2 WHERE id = $1 AND replayed_at IS NULL`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either the entry is absent or it was already
		// replayed; a second query distinguishes them.
		var exists bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduit_dlq WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("conduit/postgres: mark replayed check: %w", err)
		}
		if !exists {
			return conduit.ErrDLQNotFound
		}
		return conduit.ErrAlreadyReplayed
	}
	return nil
}

// PurgeDLQ removes a single entry by ID.
func (s *Store) PurgeDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conduit_dlq WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: purge dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduit.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQBefore removes entries finalized before the given time and
// returns how many were removed.
func (s *Store) PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conduit_dlq WHERE finalized_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("conduit/postgres: purge dlq before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conduit_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conduit/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single dead letter entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
		history  []byte
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Queue, &e.TenantID, &e.Dependency, &e.Payload,
		&e.Priority, &e.Attempts, &e.MaxAttempts, &e.IdempotencyKey,
		&e.LastError, &history, &e.FinalizedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conduit/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("conduit/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID

	if len(history) > 0 {
		var records []job.FailureRecord
		if unmarshalErr := json.Unmarshal(history, &records); unmarshalErr != nil {
			return nil, fmt.Errorf("conduit/postgres: decode failure history: %w", unmarshalErr)
		}
		e.FailureHistory = records
	}

	return &e, nil
}
