package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// PushDLQ persists a new dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduit/redis: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a dead letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, conduit.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ListDLQ returns entries matching the options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Matches(e) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FinalizedAt.After(entries[k].FinalizedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// MarkReplayedDLQ atomically sets ReplayedAt on an unreplayed entry.
// The guard is HSETNX: the field write succeeds for exactly one caller.
func (s *Store) MarkReplayedDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: mark replayed exists: %w", err)
	}
	if exists == 0 {
		return conduit.ErrDLQNotFound
	}

	set, err := s.client.HSetNX(ctx, key, "replayed_at", at.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: mark replayed: %w", err)
	}
	if !set {
		return conduit.ErrAlreadyReplayed
	}
	return nil
}

// PurgeDLQ removes a single entry by ID.
func (s *Store) PurgeDLQ(ctx context.Context, entryID id.DLQID) error {
	eID := entryID.String()
	exists, err := s.client.Exists(ctx, dlqKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: purge dlq exists: %w", err)
	}
	if exists == 0 {
		return conduit.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqKey(eID))
	pipe.SRem(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduit/redis: purge dlq: %w", err)
	}
	return nil
}

// PurgeDLQBefore removes entries finalized before the given time.
func (s *Store) PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conduit/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		finalizedStr, getErr := s.client.HGet(ctx, key, "finalized_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("conduit/redis: purge dlq get: %w", getErr)
		}

		finalizedAt, _ := time.Parse(time.RFC3339Nano, finalizedStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if finalizedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("conduit/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conduit/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	history, _ := json.Marshal(e.FailureHistory) //nolint:errcheck // FailureRecord fields always marshal
	m := map[string]interface{}{
		"id":              e.ID.String(),
		"job_id":          e.JobID.String(),
		"queue":           e.Queue,
		"tenant_id":       e.TenantID,
		"dependency":      e.Dependency,
		"payload":         string(e.Payload),
		"priority":        strconv.Itoa(e.Priority),
		"attempts":        strconv.Itoa(e.Attempts),
		"max_attempts":    strconv.Itoa(e.MaxAttempts),
		"idempotency_key": e.IdempotencyKey,
		"last_error":      e.LastError,
		"failure_history": string(history),
		"finalized_at":    e.FinalizedAt.UTC().Format(time.RFC3339Nano),
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                            //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])                        //nolint:errcheck // ditto
	attempts, _ := strconv.Atoi(m["attempts"])                        //nolint:errcheck // ditto
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])                 //nolint:errcheck // ditto
	finalizedAt, _ := time.Parse(time.RFC3339Nano, m["finalized_at"]) //nolint:errcheck // ditto
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])     //nolint:errcheck // ditto

	var history []job.FailureRecord
	if v := m["failure_history"]; v != "" {
		_ = json.Unmarshal([]byte(v), &history) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	e := &dlq.Entry{
		ID:             eID,
		JobID:          jobID,
		Queue:          m["queue"],
		TenantID:       m["tenant_id"],
		Dependency:     m["dependency"],
		Payload:        []byte(m["payload"]),
		Priority:       priority,
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: m["idempotency_key"],
		LastError:      m["last_error"],
		FailureHistory: history,
		FinalizedAt:    finalizedAt,
		CreatedAt:      createdAt,
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
