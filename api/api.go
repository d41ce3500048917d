// Package api exposes the conduit admin and producer surface over HTTP.
// It wraps an [engine.Engine] with chi routes for enqueueing jobs,
// triaging the dead letter queue, managing capability overrides and
// reading breaker and queue statistics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leftonspace/conduit/engine"
)

// API wires all HTTP handlers for a conduit engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a conduit Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	a.registerJobRoutes(r)
	a.registerDLQRoutes(r)
	a.registerOverrideRoutes(r)
	a.registerStatsRoutes(r)
	return r
}

// ── Response helpers ──

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // response already committed
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
