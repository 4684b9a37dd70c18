package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assistberry/internal/auth"
	"assistberry/internal/config"
	"assistberry/internal/models"
	"assistberry/internal/service/assistant"
	"assistberry/internal/service/chat"
	"assistberry/internal/storage"
	"assistberry/internal/worker"
)

type staticEndpoint struct{}

func (staticEndpoint) Generate(ctx context.Context, system string, turns []models.Turn) (*models.Reply, error) {
	return &models.Reply{Text: "static reply"}, nil
}

func (staticEndpoint) Summarize(ctx context.Context, prompt string) (string, error) {
	return "static profile", nil
}

func (staticEndpoint) TitleOf(ctx context.Context, seed string) (string, error) {
	return "Static Title", nil
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store, err := assistant.NewService(db, "sqlite3", zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	jobs := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})
	chatSvc := chat.NewService(store, staticEndpoint{}, nil, nil, jobs, zap.NewNop())
	authSvc := auth.NewService(db, nil, time.Hour)
	handler := NewHandler(store, chatSvc, authSvc, nil, zap.NewNop(), 90*24*time.Hour, "root")

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func loginAs(t *testing.T, router *gin.Engine, username, password string) map[string]string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.AuthToken == "" {
		t.Fatalf("expected auth token from login")
	}
	return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", body.AuthToken)}
}

func registerAdmin(t *testing.T, router *gin.Engine) map[string]string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "root",
		"password": "rootpw",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	return loginAs(t, router, "root", "rootpw")
}

func TestRegisterLoginChatFlow(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	adminHeaders := registerAdmin(t, router)

	// Regular users wait for approval before they can log in.
	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "pw",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &regBody)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "pw",
	}, nil)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, router, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", regBody.ID),
		map[string]bool{"is_approved": true}, adminHeaders)
	assertStatus(t, resp, http.StatusNoContent)

	headers := loginAs(t, router, "alice", "pw")

	// Create a session and hold a turn.
	resp = doJSONRequest(t, router, http.MethodPost, "/api/sessions", map[string]string{}, headers)
	assertStatus(t, resp, http.StatusCreated)
	var sess models.Session
	decodeJSON(t, resp.Body.Bytes(), &sess)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"session_id": sess.ID,
		"text":       "hello",
	}, headers)
	assertStatus(t, resp, http.StatusOK)
	var chatBody struct {
		ModelMessage models.Message `json:"model_message"`
	}
	decodeJSON(t, resp.Body.Bytes(), &chatBody)
	if chatBody.ModelMessage.Content != "static reply" {
		t.Fatalf("unexpected reply: %q", chatBody.ModelMessage.Content)
	}

	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/sessions/%d/messages", sess.ID), nil, headers)
	assertStatus(t, resp, http.StatusOK)
	var msgBody struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, resp.Body.Bytes(), &msgBody)
	if len(msgBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgBody.Messages))
	}
}

func TestAdminRoutesRejectRegularUsers(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	adminHeaders := registerAdmin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "bob", "password": "pw",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &regBody)
	resp = doJSONRequest(t, router, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", regBody.ID),
		map[string]bool{"is_approved": true}, adminHeaders)
	assertStatus(t, resp, http.StatusNoContent)

	headers := loginAs(t, router, "bob", "pw")
	resp = doJSONRequest(t, router, http.MethodGet, "/api/admin/users", nil, headers)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestKnowledgeIngestAndSearch(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	adminHeaders := registerAdmin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/admin/knowledge", map[string]string{
		"title":   "VPN Setup",
		"content": "Install the client then request access.",
	}, adminHeaders)
	assertStatus(t, resp, http.StatusCreated)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/knowledge/search?q=vpn+client", nil, adminHeaders)
	assertStatus(t, resp, http.StatusOK)
	var searchBody struct {
		Results []assistant.SearchHit `json:"results"`
	}
	decodeJSON(t, resp.Body.Bytes(), &searchBody)
	if len(searchBody.Results) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(searchBody.Results))
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/admin/knowledge", nil, adminHeaders)
	assertStatus(t, resp, http.StatusOK)
	var listBody struct {
		Entries []assistant.KnowledgeEntry `json:"entries"`
	}
	decodeJSON(t, resp.Body.Bytes(), &listBody)
	if len(listBody.Entries) != 1 || listBody.Entries[0].Title != "VPN Setup" {
		t.Fatalf("unexpected knowledge entries: %+v", listBody.Entries)
	}
}

func TestRetentionEndpoints(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	adminHeaders := registerAdmin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", map[string]string{}, adminHeaders)
	assertStatus(t, resp, http.StatusCreated)
	var sess models.Session
	decodeJSON(t, resp.Body.Bytes(), &sess)

	if _, err := db.Exec(`UPDATE sessions SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-120*24*time.Hour), sess.ID); err != nil {
		t.Fatalf("backdate session: %v", err)
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/retention/expired", nil, adminHeaders)
	assertStatus(t, resp, http.StatusOK)
	var expBody struct {
		Expired []models.Session `json:"expired"`
	}
	decodeJSON(t, resp.Body.Bytes(), &expBody)
	if len(expBody.Expired) != 1 {
		t.Fatalf("expected 1 expired session, got %d", len(expBody.Expired))
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/retention/confirm", map[string]any{
		"session_ids": []int64{sess.ID},
	}, adminHeaders)
	assertStatus(t, resp, http.StatusOK)
	var confBody struct {
		Deleted int `json:"deleted"`
	}
	decodeJSON(t, resp.Body.Bytes(), &confBody)
	if confBody.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", confBody.Deleted)
	}
}

func TestChatRejectsUnauthenticated(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"session_id": 1, "text": "hi",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}
