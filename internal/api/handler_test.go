package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/outpostmsg/outpost/internal/audit"
	"github.com/outpostmsg/outpost/internal/auth"
	"github.com/outpostmsg/outpost/internal/enqueue"
	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/store"
)

func TestMain(m *testing.M) {
	logger.Init("error", "text")
	os.Exit(m.Run())
}

func newTestHandler(t *testing.T) (*Handler, store.Store, *auth.Repository) {
	t.Helper()
	s := store.NewInMemoryStore()
	authRepo := auth.NewRepository(s)
	enq := enqueue.New(s)
	h := NewHandler(s, authRepo, enq, nil, "read-secret", "write-secret", "test", "test-time", "test-commit")
	return h, s, authRepo
}

func router(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHandler_HealthEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := router(h)

	for _, path := range []string{"/v1/health", "/v1/health/ready", "/v1/health/live", "/v1/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestHandler_CreateMessage_RequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := router(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_CreateMessage_HappyPath(t *testing.T) {
	h, s, authRepo := newTestHandler(t)
	r := router(h)

	ctx := context.Background()
	if err := s.CreateProject(ctx, &models.Project{ID: "proj-1", Name: "Acme", Status: models.ProjectActive}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	rawKey, _, err := authRepo.CreateAPIKey(ctx, "proj-1", "test key")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	body, _ := json.Marshal(createMessageRequest{
		Channel: string(models.ChannelEmail),
		From:    "noreply@example.com",
		To:      "user@example.com",
		Body:    "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp createMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID == "" || resp.Duplicate {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// TestHandler_CreateMessage_DefaultsChannelToEmail covers spec.md §6/§8
// scenario 1: the wire body has no "channel" field at all, and the request
// must still be admitted (defaulting to email), not rejected as invalid.
func TestHandler_CreateMessage_DefaultsChannelToEmail(t *testing.T) {
	h, s, authRepo := newTestHandler(t)
	r := router(h)

	ctx := context.Background()
	if err := s.CreateProject(ctx, &models.Project{ID: "proj-1", Name: "Acme", Status: models.ProjectActive}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	rawKey, _, err := authRepo.CreateAPIKey(ctx, "proj-1", "test key")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"to":"a@x","from":"b@y","body":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	period := time.Now().UTC().Format("2006-01")
	current, err := s.SumUsageForPeriod(ctx, "proj-1", period)
	if err != nil {
		t.Fatalf("sum usage: %v", err)
	}
	if current != 0 {
		t.Fatalf("usage should only increment on delivery, not enqueue; got %d", current)
	}
}

func TestHandler_AdminCreateProject_RequiresWriteSecret(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := router(h)

	body := bytes.NewBufferString(`{"name":"Acme","owner_email":"owner@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/projects", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin secret, got %d", w.Code)
	}
}

func TestHandler_AdminCreateProjectAndKeyLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := router(h)

	createBody := bytes.NewBufferString(`{"name":"Acme","owner_email":"owner@example.com"}`)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/admin/projects", createBody)
	createReq.Header.Set("Authorization", "Bearer write-secret")
	createW := httptest.NewRecorder()
	r.ServeHTTP(createW, createReq)
	if createW.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createW.Code, createW.Body.String())
	}
	var project models.Project
	if err := json.Unmarshal(createW.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	keyReq := httptest.NewRequest(http.MethodPost, "/v1/admin/projects/"+project.ID+"/keys", bytes.NewBufferString(`{"name":"prod"}`))
	keyReq.Header.Set("Authorization", "Bearer write-secret")
	keyW := httptest.NewRecorder()
	r.ServeHTTP(keyW, keyReq)
	if keyW.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", keyW.Code, keyW.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(keyW.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	keyID, _ := created["key_id"].(string)
	if keyID == "" {
		t.Fatalf("expected key_id in response: %v", created)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/admin/projects/"+project.ID+"/keys", nil)
	listReq.Header.Set("Authorization", "Bearer read-secret")
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listW.Code, listW.Body.String())
	}

	revokeReq := httptest.NewRequest(http.MethodPost, "/v1/admin/keys/"+keyID+"/revoke", nil)
	revokeReq.Header.Set("Authorization", "Bearer write-secret")
	revokeW := httptest.NewRecorder()
	r.ServeHTTP(revokeW, revokeReq)
	if revokeW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", revokeW.Code, revokeW.Body.String())
	}
}

func TestHandler_AdminAuditLoggerExercised(t *testing.T) {
	s := store.NewInMemoryStore()
	authRepo := auth.NewRepository(s)
	enq := enqueue.New(s)
	auditLog := audit.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go auditLog.Run(ctx)
	h := NewHandler(s, authRepo, enq, auditLog, "read-secret", "write-secret", "test", "test-time", "test-commit")
	r := router(h)

	body := bytes.NewBufferString(`{"name":"Acme","owner_email":"owner@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/projects", body)
	req.Header.Set("Authorization", "Bearer write-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	auditLog.Close()
}
