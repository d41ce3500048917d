// Package override is the runtime capability override registry: the
// operator-facing switch that force-disables a named capability,
// globally or for one tenant, without deploying code.
//
// The registry is read before every dependency-bound job executes, so
// reads are served from a short-TTL in-process cache rather than
// querying the store on every job. Writes go through the store first
// and then invalidate the cache, so a SetOverride is visible to local
// readers immediately and to other processes within the cache TTL.
//
// A tenant-scoped override always wins over a global one when both
// exist. Overrides can carry an expiry; an expired override behaves as
// absent without requiring operator cleanup.
package override
