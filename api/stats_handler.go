package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leftonspace/conduit/breaker"
)

type queueStats struct {
	Queue          string `json:"queue"`
	Depth          int    `json:"depth"`
	InFlight       int    `json:"in_flight"`
	TenantInFlight *int   `json:"tenant_in_flight,omitempty"`
}

type statsResponse struct {
	DLQCount int64            `json:"dlq_count"`
	Breakers []breaker.Status `json:"breakers"`
}

func (a *API) registerStatsRoutes(r chi.Router) {
	r.Get("/stats", a.handleStats)
	r.Get("/queues/{queue}/stats", a.handleQueueStats)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQ().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq count failed")
		return
	}
	breakers := a.eng.BreakerStatuses()
	if breakers == nil {
		breakers = []breaker.Status{}
	}
	writeJSON(w, http.StatusOK, statsResponse{DLQCount: count, Breakers: breakers})
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	depth, inFlight, err := a.eng.QueueStats(queue)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	stats := queueStats{
		Queue:    queue,
		Depth:    depth,
		InFlight: inFlight,
	}
	if tenantID := r.URL.Query().Get("tenant_id"); tenantID != "" {
		n := a.eng.TenantInFlight(queue, tenantID)
		stats.TenantInFlight = &n
	}
	writeJSON(w, http.StatusOK, stats)
}
