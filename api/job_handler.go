package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/job"
)

type enqueueRequest struct {
	Queue          string          `json:"queue"`
	TenantID       string          `json:"tenant_id"`
	Dependency     string          `json:"dependency,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	NotBefore      *time.Time      `json:"not_before,omitempty"`
}

func (a *API) registerJobRoutes(r chi.Router) {
	r.Post("/jobs", a.handleEnqueue)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Queue == "" {
		writeError(w, http.StatusBadRequest, "queue is required")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	var opts []job.Option
	if req.Priority != 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.IdempotencyKey != "" {
		opts = append(opts, job.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.NotBefore != nil {
		opts = append(opts, job.WithNotBefore(*req.NotBefore))
	}

	j, err := a.eng.EnqueueRaw(r.Context(), req.Queue, req.TenantID, req.Dependency, req.Payload, opts...)
	if err != nil {
		if errors.Is(err, conduit.ErrBackpressure) {
			writeError(w, http.StatusTooManyRequests, "tenant over burst allowance")
			return
		}
		a.logger.Error("api: enqueue failed", "queue", req.Queue, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}
