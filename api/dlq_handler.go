package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/id"
)

func (a *API) registerDLQRoutes(r chi.Router) {
	r.Get("/dlq", a.handleDLQList)
	r.Get("/dlq/count", a.handleDLQCount)
	r.Post("/dlq/purge", a.handleDLQPurgeBefore)
	r.Get("/dlq/{id}", a.handleDLQGet)
	r.Post("/dlq/{id}/replay", a.handleDLQReplay)
	r.Delete("/dlq/{id}", a.handleDLQDelete)
}

func (a *API) handleDLQList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := dlq.ListOpts{
		TenantID:   q.Get("tenant_id"),
		Dependency: q.Get("dependency"),
		Queue:      q.Get("queue"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since: invalid RFC3339 timestamp")
			return
		}
		opts.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until: invalid RFC3339 timestamp")
			return
		}
		opts.Until = t
	}
	if v := q.Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v) //nolint:errcheck // zero on parse failure means no limit
	}
	if v := q.Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v) //nolint:errcheck // zero on parse failure means no offset
	}

	entries, err := a.eng.DLQ().List(r.Context(), opts)
	if err != nil {
		a.logger.Error("api: dlq list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dlq list failed")
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleDLQCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQ().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (a *API) handleDLQGet(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}
	entry, err := a.eng.DLQ().Get(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, conduit.ErrDLQNotFound) {
			writeError(w, http.StatusNotFound, "dlq entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "dlq get failed")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleDLQReplay(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}
	j, err := a.eng.DLQ().Replay(r.Context(), entryID)
	if err != nil {
		switch {
		case errors.Is(err, conduit.ErrDLQNotFound):
			writeError(w, http.StatusNotFound, "dlq entry not found")
		case errors.Is(err, conduit.ErrAlreadyReplayed):
			writeError(w, http.StatusConflict, "dlq entry already replayed")
		case errors.Is(err, conduit.ErrBackpressure):
			writeError(w, http.StatusTooManyRequests, "tenant over burst allowance")
		default:
			a.logger.Error("api: dlq replay failed", "entry_id", entryID, "error", err)
			writeError(w, http.StatusInternalServerError, "dlq replay failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (a *API) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}
	if err := a.eng.DLQ().Purge(r.Context(), entryID); err != nil {
		if errors.Is(err, conduit.ErrDLQNotFound) {
			writeError(w, http.StatusNotFound, "dlq entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "dlq purge failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDLQPurgeBefore removes all entries finalized before the given
// time. The before query parameter is required.
func (a *API) handleDLQPurgeBefore(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("before")
	if v == "" {
		writeError(w, http.StatusBadRequest, "before is required")
		return
	}
	before, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "before: invalid RFC3339 timestamp")
		return
	}
	purged, err := a.eng.DLQ().PurgeBefore(r.Context(), before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
