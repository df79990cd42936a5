package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/creatoria/clarifier/internal/clarify/repository"
	"github.com/creatoria/clarifier/internal/clarify/service"
	"github.com/creatoria/clarifier/internal/common/config"
	"github.com/creatoria/clarifier/internal/common/logger"
	"github.com/creatoria/clarifier/internal/events/bus"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

// MockEventBus implements bus.EventBus for testing
type MockEventBus struct{}

func (m *MockEventBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	return nil
}

func (m *MockEventBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (m *MockEventBus) Close() {}

func (m *MockEventBus) IsConnected() bool {
	return true
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	cfg := config.SessionConfig{MaxAttempts: 3, IdleTimeout: 1800, ReapInterval: 300}
	svc := service.NewService(store, &MockEventBus{}, cfg, log)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), svc, log)
	SetupHealthRoute(router, &MockEventBus{})
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) *v1.ClarificationResponse {
	t.Helper()
	var resp v1.ClarificationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return &resp
}

func startSession(t *testing.T, router *gin.Engine) *v1.ClarificationResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SolverInput: &v1.SolverInput{},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp.SessionID == "" {
		t.Fatal("start did not return a session id")
	}
	return resp
}

func TestClarifyStart(t *testing.T) {
	router := setupTestRouter(t)

	resp := startSession(t, router)
	if !resp.NeedClarification {
		t.Error("empty input should need clarification")
	}
	if resp.Request == nil || resp.Request.CurrentField != "variables" {
		t.Fatalf("expected the variables question, got %+v", resp.Request)
	}
	if len(resp.Request.Questions) != 1 {
		t.Errorf("questions = %v", resp.Request.Questions)
	}
	if resp.Request.AttemptsLeft != 3 {
		t.Errorf("attempts_left = %d", resp.Request.AttemptsLeft)
	}
}

func TestClarifyStartCompleteInput(t *testing.T) {
	router := setupTestRouter(t)

	lo, hi := 0.0, 10.0
	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SolverInput: &v1.SolverInput{
			Variables:  []v1.Variable{{Name: "x1", LowerBound: &lo, UpperBound: &hi}},
			Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.NeedClarification {
		t.Error("complete input should not open a session")
	}
	if resp.SolverInput == nil {
		t.Error("solver_input should be echoed back")
	}
}

func TestClarifyAnswerFlow(t *testing.T) {
	router := setupTestRouter(t)
	sessionID := startSession(t, router).SessionID

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SessionID: sessionID,
		FieldID:   "variables",
		Answer:    "x1, x2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("answer returned %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp.Accepted == nil || !*resp.Accepted {
		t.Fatalf("answer should be accepted: %s", w.Body.String())
	}
	if resp.Request.CurrentField != "objectives" {
		t.Errorf("current_field = %s, want objectives", resp.Request.CurrentField)
	}
	if len(resp.History) == 0 {
		t.Error("response should carry the conversation history")
	}
}

func TestClarifyRejectionIsInBand(t *testing.T) {
	router := setupTestRouter(t)
	sessionID := startSession(t, router).SessionID

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SessionID: sessionID,
		FieldID:   "variables",
		Answer:    "???",
	})
	// Format rejections are part of the dialogue, not transport errors.
	if w.Code != http.StatusOK {
		t.Fatalf("rejection should be a 200, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Accepted == nil || *resp.Accepted {
		t.Fatal("answer should be rejected")
	}
	if resp.Reason == "" {
		t.Error("rejection must carry a reason")
	}
	if resp.Attempts == nil || *resp.Attempts != 1 {
		t.Errorf("attempts = %v", resp.Attempts)
	}
}

func TestClarifyStaleFieldIs409(t *testing.T) {
	router := setupTestRouter(t)
	sessionID := startSession(t, router).SessionID

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SessionID: sessionID,
		FieldID:   "objectives",
		Answer:    "minimize cost",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("stale field should be 409, got %d: %s", w.Code, w.Body.String())
	}

	// The session is untouched and the original question still stands.
	w = doJSON(t, router, http.MethodGet, "/api/v1/clarifications/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get returned %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Request.CurrentField != "variables" {
		t.Errorf("current_field = %s", resp.Request.CurrentField)
	}
}

func TestClarifyUnknownSessionIs404(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SessionID: "b0a9e0ac-0000-0000-0000-000000000000",
		FieldID:   "variables",
		Answer:    "x1",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session should be 404, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/clarifications/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get unknown session should be 404, got %d", w.Code)
	}
}

func TestClarifyMissingSessionIDIs400(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		FieldID: "variables",
		Answer:  "x1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("answer without session_id should be 400, got %d", w.Code)
	}
}

func TestReopenEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	sessionID := startSession(t, router).SessionID

	w := doJSON(t, router, http.MethodPost, "/api/v1/clarifications", ClarifyRequest{
		SessionID: sessionID,
		FieldID:   "variables",
		Answer:    "x1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("answer returned %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/clarifications/"+sessionID+"/reopen",
		ReopenRequest{FieldID: "variables"})
	if w.Code != http.StatusOK {
		t.Fatalf("reopen returned %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeResponse(t, w); resp.Request.CurrentField != "variables" {
		t.Errorf("current_field = %s", resp.Request.CurrentField)
	}

	// Reopening a pending field is rejected.
	w = doJSON(t, router, http.MethodPost, "/api/v1/clarifications/"+sessionID+"/reopen",
		ReopenRequest{FieldID: "objectives"})
	if w.Code != http.StatusConflict {
		t.Errorf("reopening a pending field should be 409, got %d", w.Code)
	}
}

func TestAbandonEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	sessionID := startSession(t, router).SessionID

	w := doJSON(t, router, http.MethodDelete, "/api/v1/clarifications/"+sessionID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("abandon returned %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/clarifications/"+sessionID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("abandoned session should be gone, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.EventBus != "connected" {
		t.Errorf("health = %+v", resp)
	}
}
