package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assistberry/internal/config"
	"assistberry/internal/models"
	"assistberry/internal/service/assistant"
	"assistberry/internal/storage"
	"assistberry/internal/worker"

	"go.uber.org/zap"
)

type fakeEndpoint struct {
	mu         sync.Mutex
	failNext   bool
	replies    []string
	titleCalls int32
	lastSystem string
}

func (f *fakeEndpoint) Generate(ctx context.Context, system string, turns []models.Turn) (*models.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSystem = system
	if f.failNext {
		f.failNext = false
		return nil, errors.New("provider unavailable")
	}
	reply := fmt.Sprintf("reply %d", len(f.replies)+1)
	f.replies = append(f.replies, reply)
	return &models.Reply{Text: reply}, nil
}

func (f *fakeEndpoint) Summarize(ctx context.Context, prompt string) (string, error) {
	return "Synthesized profile.", nil
}

func (f *fakeEndpoint) TitleOf(ctx context.Context, seed string) (string, error) {
	atomic.AddInt32(&f.titleCalls, 1)
	return "Generated Title", nil
}

func newTestChat(t *testing.T) (*Service, *assistant.Service, *fakeEndpoint, *sql.DB) {
	t.Helper()
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
	ep := &fakeEndpoint{}
	jobs := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16})
	svc := NewService(store, ep, nil, nil, jobs, zap.NewNop())
	return svc, store, ep, db
}

func seedUserSession(t *testing.T, store *assistant.Service) (models.Caller, int64) {
	t.Helper()
	ctx := context.Background()
	user, err := store.RegisterUser(ctx, "alice", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sess, err := store.CreateSession(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return models.Caller{UserID: user.ID, Role: user.Role}, sess.ID
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestRespondPersistsBothSides(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)

	resp, err := svc.Respond(context.Background(), Request{
		Caller: caller, SessionID: sessionID, Text: "hello there",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Degraded {
		t.Fatalf("unexpected degraded reply")
	}

	msgs, err := store.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hello there" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleModel || msgs[1].Content != "reply 1" {
		t.Fatalf("unexpected model message: %+v", msgs[1])
	}
}

func TestRespondEmptyTurnWritesNothing(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)

	_, err := svc.Respond(context.Background(), Request{Caller: caller, SessionID: sessionID, Text: "  "})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	msgs, err := store.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected turn must not persist, got %d messages", len(msgs))
	}
}

func TestRespondDegradedOnEndpointFailure(t *testing.T) {
	svc, store, ep, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)
	ep.failNext = true

	resp, err := svc.Respond(context.Background(), Request{
		Caller: caller, SessionID: sessionID, Text: "hello",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response")
	}

	msgs, err := store.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both sides persisted, got %d", len(msgs))
	}
	if msgs[1].Content != degradedReply {
		t.Fatalf("expected degraded placeholder, got %q", msgs[1].Content)
	}
}

func TestRespondGeneratesTitleOnce(t *testing.T) {
	svc, store, ep, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Respond(ctx, Request{Caller: caller, SessionID: sessionID, Text: "hello again"}); err != nil {
			t.Fatalf("respond %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		sess, err := store.GetSession(ctx, caller.UserID, sessionID)
		return err == nil && sess.Title == "Generated Title"
	})
	// Give a queued second job a chance to run; it must see the new title
	// and back off.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&ep.titleCalls); n != 1 {
		t.Fatalf("expected exactly one title generation, got %d", n)
	}
}

func TestRespondUpdatesMemoryProfile(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)
	ctx := context.Background()

	if _, err := svc.Respond(ctx, Request{Caller: caller, SessionID: sessionID, Text: "I prefer Go"}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	waitFor(t, func() bool {
		profile, err := store.GetMemory(ctx, caller.UserID)
		return err == nil && profile == "Synthesized profile."
	})
}

func TestRespondIndexesOnlyForAdmins(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	ctx := context.Background()

	admin, err := store.RegisterUser(ctx, "root", "pw", "root")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	adminSess, err := store.CreateSession(ctx, admin.ID, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	adminCaller := models.Caller{UserID: admin.ID, Role: admin.Role, AllowPro: true, AllowImage: true}
	if _, err := svc.Respond(ctx, Request{Caller: adminCaller, SessionID: adminSess.ID, Text: "indexed turn"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	caller, sessionID := seedUserSession(t, store)
	if _, err := svc.Respond(ctx, Request{Caller: caller, SessionID: sessionID, Text: "private turn"}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM search_index`).Scan(&n); err != nil {
		t.Fatalf("count index: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected only the admin exchange indexed, got %d rows", n)
	}
}

func TestRespondAttachmentOnlyStoresPlaceholder(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)

	att := models.Attachment{MIMEType: "image/png", Data: []byte("fake-png")}
	if _, err := svc.Respond(context.Background(), Request{
		Caller: caller, SessionID: sessionID, Attachments: []models.Attachment{att},
	}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	msgs, err := store.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if !strings.HasPrefix(msgs[0].Content, "[Attachment ") {
		t.Fatalf("expected placeholder content, got %q", msgs[0].Content)
	}
	if strings.Contains(msgs[0].Content, "fake-png") {
		t.Fatalf("raw attachment bytes persisted: %q", msgs[0].Content)
	}
}

func TestCustomPersonaPinsFirstUserTurn(t *testing.T) {
	svc, store, ep, db := newTestChat(t)
	defer db.Close()
	caller, sessionID := seedUserSession(t, store)
	ctx := context.Background()

	// The first user turn in custom mode IS the persona.
	if _, err := svc.Respond(ctx, Request{
		Caller: caller, SessionID: sessionID, Text: "You are a pirate.",
		PersonaMode: PersonaCustom,
	}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	ep.mu.Lock()
	system := ep.lastSystem
	ep.mu.Unlock()
	if !strings.HasPrefix(system, "You are a pirate.") {
		t.Fatalf("first turn must become the persona, got %q", system)
	}

	// Later turns carry ordinary text; the pinned persona must hold.
	if _, err := svc.Respond(ctx, Request{
		Caller: caller, SessionID: sessionID, Text: "still there?",
		PersonaMode: PersonaCustom,
	}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	ep.mu.Lock()
	system = ep.lastSystem
	ep.mu.Unlock()
	if !strings.HasPrefix(system, "You are a pirate.") {
		t.Fatalf("expected pinned persona on later turns, got %q", system)
	}

	sess, err := store.GetSession(ctx, caller.UserID, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Persona != "You are a pirate." {
		t.Fatalf("expected persona cached on session, got %q", sess.Persona)
	}
}

func TestRespondForeignSession(t *testing.T) {
	svc, store, _, db := newTestChat(t)
	defer db.Close()
	ctx := context.Background()

	_, sessionID := seedUserSession(t, store)
	other, err := store.RegisterUser(ctx, "mallory", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Respond(ctx, Request{
		Caller: models.Caller{UserID: other.ID, Role: other.Role}, SessionID: sessionID, Text: "hi",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
