package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/leftonspace/conduit"
)

// HandlerFunc processes one job. The returned bytes are the job's result
// and, when the job carries an idempotency key, are cached so duplicate
// deliveries are acknowledged with the same result without re-executing.
// Errors should be tagged with conduit.Transient or conduit.Permanent.
type HandlerFunc func(ctx context.Context, j *Job) ([]byte, error)

// Registry maps queue names to handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a queue. Registering a queue twice
// replaces the previous handler.
func (r *Registry) Register(queue string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
}

// Get returns the handler for the given queue.
// Returns false if no handler is registered.
func (r *Registry) Get(queue string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Queues returns all queue names with a registered handler.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queues := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		queues = append(queues, q)
	}
	return queues
}

// Definition is a typed handler definition for a queue.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Queue is the queue this handler serves.
	Queue string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, j *Job, payload T) ([]byte, error)
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](queue string, handler func(ctx context.Context, j *Job, payload T) ([]byte, error)) *Definition[T] {
	return &Definition[T]{Queue: queue, Handler: handler}
}

// RegisterDefinition registers a typed definition. The generic handler is
// wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler. A payload that fails to decode is a
// permanent failure: retrying malformed bytes can never succeed.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job) ([]byte, error) {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				return nil, conduit.Permanent(conduit.KindMalformedPayload,
					fmt.Errorf("unmarshal payload for queue %q: %w", def.Queue, err))
			}
		}
		return def.Handler(ctx, j, t)
	}
	r.Register(def.Queue, handler)
}
