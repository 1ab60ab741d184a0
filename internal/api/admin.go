package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/outpostmsg/outpost/internal/apperr"
	"github.com/outpostmsg/outpost/internal/models"
)

// adminCreateProject provisions a tenant. Body: {"name", "owner_email",
// "monthly_limit"?, "rate_limit_per_minute"?}.
func (h *Handler) adminCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name               string `json:"name"`
		OwnerEmail         string `json:"owner_email"`
		MonthlyLimit       *int   `json:"monthly_limit,omitempty"`
		RateLimitPerMinute *int   `json:"rate_limit_per_minute,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if body.Name == "" {
		writeError(w, apperr.ValidationError{Field: "name", Message: "required"})
		return
	}

	project := &models.Project{
		ID:                 uuid.NewString(),
		Name:               body.Name,
		OwnerEmail:         body.OwnerEmail,
		Status:             models.ProjectActive,
		MonthlyLimit:       body.MonthlyLimit,
		RateLimitPerMinute: body.RateLimitPerMinute,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}
	h.recordAudit(r, "create_project", project.ID, nil)
	writeJSON(w, http.StatusCreated, project)
}

// adminCreateKey provisions a new API key for a project, returning the raw
// secret exactly once. Body: {"name"}.
func (h *Handler) adminCreateKey(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var body struct {
		Name string `json:"name"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	rawKey, key, err := h.authRepo.CreateAPIKey(r.Context(), projectID, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	h.recordAudit(r, "create_key", key.ID, []byte(`{"project_id":"`+projectID+`"}`))
	writeJSON(w, http.StatusCreated, map[string]any{
		"key_id":  key.ID,
		"api_key": rawKey,
	})
}

// adminListKeys returns the (non-secret) key records for a project.
func (h *Handler) adminListKeys(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	keys, err := h.authRepo.ListAPIKeys(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// adminRevokeKey revokes a key by id.
func (h *Handler) adminRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	if err := h.authRepo.RevokeAPIKey(r.Context(), keyID); err != nil {
		writeError(w, err)
		return
	}
	h.recordAudit(r, "revoke_key", keyID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"key_id": keyID, "status": "revoked"})
}

// recordAudit is a no-op when the handler was constructed without an audit
// logger (e.g. in unit tests that don't exercise the admin surface).
func (h *Handler) recordAudit(r *http.Request, action, target string, detail []byte) {
	if h.audit == nil {
		return
	}
	h.audit.Record("admin", action, target, detail)
}
