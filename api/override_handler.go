package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/override"
)

type disableCapabilityRequest struct {
	Scope     string     `json:"scope,omitempty"` // empty means global
	Reason    string     `json:"reason,omitempty"`
	SetBy     string     `json:"set_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *API) registerOverrideRoutes(r chi.Router) {
	r.Get("/overrides", a.handleOverrideList)
	r.Put("/overrides/{capability}", a.handleCapabilityDisable)
	r.Delete("/overrides/{capability}", a.handleCapabilityEnable)
}

func (a *API) handleOverrideList(w http.ResponseWriter, r *http.Request) {
	overrides, err := a.eng.Overrides().List(r.Context())
	if err != nil {
		a.logger.Error("api: override list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "override list failed")
		return
	}
	if overrides == nil {
		overrides = []*override.Override{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (a *API) handleCapabilityDisable(w http.ResponseWriter, r *http.Request) {
	capability := chi.URLParam(r, "capability")

	var req disableCapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = override.ScopeGlobal
	}
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	o, err := a.eng.DisableCapability(r.Context(), capability, scope, req.Reason, req.SetBy, expiresAt)
	if err != nil {
		a.logger.Error("api: disable capability failed", "capability", capability, "error", err)
		writeError(w, http.StatusInternalServerError, "disable capability failed")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleCapabilityEnable(w http.ResponseWriter, r *http.Request) {
	capability := chi.URLParam(r, "capability")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = override.ScopeGlobal
	}

	if err := a.eng.EnableCapability(r.Context(), capability, scope); err != nil {
		if errors.Is(err, conduit.ErrOverrideNotFound) {
			writeError(w, http.StatusNotFound, "override not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "enable capability failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
