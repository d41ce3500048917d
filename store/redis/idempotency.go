package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/idempotency"
)

// record is the JSON value stored per idempotency key. TTL lives on the
// Redis key itself, so expiry needs no field.
type record struct {
	State  idempotency.State `json:"state"`
	Result []byte            `json:"result,omitempty"`
}

// ClaimKey atomically claims the key for ttl via SET NX PX: a single
// round-trip check-and-set, so two racing claims can never both see
// Claimed. An expired key has been evicted by Redis and behaves as
// absent.
func (s *Store) ClaimKey(ctx context.Context, key string, ttl time.Duration) (idempotency.ClaimOutcome, []byte, error) {
	fresh, err := json.Marshal(record{State: idempotency.StateInProgress})
	if err != nil {
		return 0, nil, fmt.Errorf("conduit/redis: marshal claim: %w", err)
	}

	// The key may expire between a failed SET NX and the GET, so retry
	// the pair once before reporting the key as held.
	for range 2 {
		ok, setErr := s.client.SetNX(ctx, idemKey(key), fresh, ttl).Result()
		if setErr != nil {
			return 0, nil, fmt.Errorf("conduit/redis: claim key: %w", setErr)
		}
		if ok {
			return idempotency.Claimed, nil, nil
		}

		val, getErr := s.client.Get(ctx, idemKey(key)).Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return 0, nil, fmt.Errorf("conduit/redis: claim key get: %w", getErr)
		}
		var rec record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return 0, nil, fmt.Errorf("conduit/redis: decode idempotency record: %w", err)
		}
		if rec.State == idempotency.StateResolved {
			return idempotency.AlreadyResolved, rec.Result, nil
		}
		return idempotency.InProgress, nil, nil
	}
	return idempotency.InProgress, nil, nil
}

// ResolveKey stores the cached result for a claimed key, keeping the
// original TTL.
func (s *Store) ResolveKey(ctx context.Context, key string, result []byte) error {
	resolved, err := json.Marshal(record{State: idempotency.StateResolved, Result: result})
	if err != nil {
		return fmt.Errorf("conduit/redis: marshal resolve: %w", err)
	}

	// XX: only overwrite an existing claim; KEEPTTL preserves the
	// claim's expiry.
	set, err := s.client.SetArgs(ctx, idemKey(key), resolved, goredis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conduit.ErrKeyNotFound
		}
		return fmt.Errorf("conduit/redis: resolve key: %w", err)
	}
	if set == "" {
		return conduit.ErrKeyNotFound
	}
	return nil
}

// ReleaseKey frees a claimed key.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idemKey(key)).Err(); err != nil {
		return fmt.Errorf("conduit/redis: release key: %w", err)
	}
	return nil
}
