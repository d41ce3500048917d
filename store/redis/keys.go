package redis

// Redis key naming conventions for conduit data.
// All keys are prefixed with "conduit:" to avoid collisions.

const keyPrefix = "conduit:"

// ── DLQ keys ──

// dlqKey returns the key for a dead letter entry: conduit:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all dead letter entry IDs for
// enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Idempotency keys ──

// idemKey returns the key for an idempotency record: conduit:idem:{key}
func idemKey(key string) string { return keyPrefix + "idem:" + key }

// ── Override keys ──

// overrideKey returns the key for an override pair:
// conduit:override:{capability}:{scope}
func overrideKey(capability, scope string) string {
	return keyPrefix + "override:" + capability + ":" + scope
}

// overridePairsKey is the Set tracking all "{capability}:{scope}" pairs
// for enumeration.
const overridePairsKey = keyPrefix + "override_pairs"
