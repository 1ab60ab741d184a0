// Package api wires the HTTP transport layer: routing, request
// parsing/validation, and response shaping over the engine's Enqueuer and
// Store, in the teacher's handler-struct-plus-route-registration style.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/outpostmsg/outpost/internal/apperr"
	"github.com/outpostmsg/outpost/internal/audit"
	"github.com/outpostmsg/outpost/internal/auth"
	"github.com/outpostmsg/outpost/internal/enqueue"
	middlewares "github.com/outpostmsg/outpost/internal/middleware"
	"github.com/outpostmsg/outpost/internal/store"
)

// Handler holds everything the HTTP layer needs to serve requests.
type Handler struct {
	store     store.Store
	authRepo  *auth.Repository
	enqueuer  *enqueue.Enqueuer
	audit     *audit.Logger
	version   string
	buildTime string
	gitCommit string
	startTime time.Time
	adminRead  string
	adminWrite string
}

func NewHandler(s store.Store, authRepo *auth.Repository, enq *enqueue.Enqueuer, auditLog *audit.Logger, adminRead, adminWrite, version, buildTime, gitCommit string) *Handler {
	return &Handler{
		store:      s,
		authRepo:   authRepo,
		enqueuer:   enq,
		audit:      auditLog,
		version:    version,
		buildTime:  buildTime,
		gitCommit:  gitCommit,
		startTime:  time.Now(),
		adminRead:  adminRead,
		adminWrite: adminWrite,
	}
}

// RegisterRoutes mounts every route this process serves.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)
		r.Get("/version", h.versionHandler)

		r.Group(func(r chi.Router) {
			r.Use(middlewares.APIKeyAuth(h.authRepo))
			r.Post("/messages", h.createMessage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middlewares.AdminSecret(h.adminRead))
				r.Get("/projects/{project_id}/keys", h.adminListKeys)
			})
			r.Group(func(r chi.Router) {
				r.Use(middlewares.AdminSecret(h.adminWrite))
				r.Post("/projects", h.adminCreateProject)
				r.Post("/projects/{project_id}/keys", h.adminCreateKey)
				r.Post("/keys/{key_id}/revoke", h.adminRevokeKey)
			})
		})
	})
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	})
}

func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{"store": "ok"}
	if err := h.store.Health(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	})
}

// writeJSON writes a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// quotaMetadata is the `quota` sub-object spec.md §6/§8 mandate on
// monthly_quota_exceeded responses.
type quotaMetadata struct {
	Limit   int `json:"limit"`
	Current int `json:"current"`
}

// rateLimitMetadata is the `rate_limit` sub-object spec.md §6/§8 mandate on
// rate_limit_exceeded responses.
type rateLimitMetadata struct {
	Limit   int    `json:"limit"`
	Current int    `json:"current"`
	Window  string `json:"window"`
}

// errorResponse is the `{error, message, ...metadata}` shape spec.md §7
// mandates at the HTTP boundary: metadata is spread as named top-level
// fields (quota, rate_limit, field), not nested under a generic key.
type errorResponse struct {
	Error     apperr.Kind        `json:"error"`
	Message   string             `json:"message"`
	Quota     *quotaMetadata     `json:"quota,omitempty"`
	RateLimit *rateLimitMetadata `json:"rate_limit,omitempty"`
	Field     string             `json:"field,omitempty"`
}

// writeError classifies err via apperr.Classify and writes the standard
// error envelope. A global recovery middleware handles panics separately;
// this path is for typed/sentinel errors the handler already caught.
func writeError(w http.ResponseWriter, err error) {
	kind, status := apperr.Classify(err)
	resp := errorResponse{Error: kind, Message: err.Error()}

	switch e := err.(type) {
	case apperr.QuotaExceededError:
		resp.Quota = &quotaMetadata{Limit: e.Limit, Current: e.Current}
	case apperr.RateLimitExceededError:
		resp.RateLimit = &rateLimitMetadata{Limit: e.Limit, Current: e.Current, Window: e.Window}
	case apperr.ValidationError:
		resp.Field = e.Field
	}

	writeJSON(w, status, resp)
}
