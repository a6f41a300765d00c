package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/devbackend"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/repository"
	"github.com/clippy-oss/homie/canister-chat/internal/service"
)

func newTestServer(t *testing.T) (*Server, *devbackend.Store) {
	t.Helper()
	db, err := repository.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repository.Close(db) })

	clk := clock.Fake(time.Unix(1700000000, 0))
	store := devbackend.NewStore(clk)
	backend := devbackend.NewDirect(store)
	bus := domain.NewEventBus()

	session := service.NewSessionService(backend, repository.NewSessionRepository(db), bus, clk)
	chat := service.NewChatService(backend, session, repository.NewMessageRepository(db), bus, clk, service.ChatServiceConfig{})
	session.AddListener(chat.HandleSessionChange)
	t.Cleanup(chat.Close)

	return NewServer(session, chat, backend, ServerConfig{Address: "127.0.0.1:0"}), store
}

func register(t *testing.T, s *devbackend.Store, email, name string) domain.User {
	t.Helper()
	code, err := s.GenerateOTP(email)
	if err != nil {
		t.Fatalf("GenerateOTP() error = %v", err)
	}
	u, err := s.RegisterUser(email, name, code)
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	return u
}

func callTool(t *testing.T, handler server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("tool handler error = %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("tool returned no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want text", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestToolsRequireSession(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]any
	}{
		{"list users", s.handleListUsers, nil},
		{"list groups", s.handleListGroups, nil},
		{"open", s.handleOpen, map[string]any{"user_id": "u1"}},
		{"unread", s.handleUnreadCount, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, tt.handler, tt.args)
			if !isErr || !strings.Contains(text, "no user logged in") {
				t.Errorf("result = %q (error %v), want not-authenticated error", text, isErr)
			}
		})
	}
}

func TestToolArgumentValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]any
		want    string
	}{
		{"login without email", s.handleLogin, nil, "email is required"},
		{"open without target", s.handleOpen, map[string]any{}, "user_id or group_id is required"},
		{"open with both", s.handleOpen, map[string]any{"user_id": "a", "group_id": "b"}, "not both"},
		{"send without text", s.handleSendMessage, nil, "text is required"},
		{"send with bad type", s.handleSendMessage, map[string]any{"text": "x", "type": "video"}, "unknown message type"},
		{"mark read with bad id", s.handleMarkRead, map[string]any{"message_ids": "1,x"}, `Invalid message id "x"`},
		{"messages without chat", s.handleGetMessages, nil, "No active chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, tt.handler, tt.args)
			if !isErr || !strings.Contains(text, tt.want) {
				t.Errorf("result = %q (error %v), want error containing %q", text, isErr, tt.want)
			}
		})
	}
}

func TestChatTools(t *testing.T) {
	s, store := newTestServer(t)
	alice := register(t, store, "alice@example.com", "Alice")
	bob := register(t, store, "bob@example.com", "Bob")

	text, isErr := callTool(t, s.handleLogin, map[string]any{"email": "bob@example.com"})
	if isErr || !strings.Contains(text, "Signed in as Bob") {
		t.Fatalf("login = %q", text)
	}

	text, _ = callTool(t, s.handleListUsers, nil)
	if !strings.Contains(text, "Found 1 user(s)") || !strings.Contains(text, alice.ID) {
		t.Errorf("list users = %q", text)
	}

	if text, isErr = callTool(t, s.handleOpen, map[string]any{"user_id": alice.ID}); isErr {
		t.Fatalf("open = %q", text)
	}

	text, isErr = callTool(t, s.handleSendMessage, map[string]any{"text": "lunch at noon?"})
	if isErr || !strings.Contains(text, "To: Alice") {
		t.Fatalf("send = %q", text)
	}

	if _, err := store.SendDirectMessage(alice.ID, bob.ID, "sure", domain.MessageTypeText); err != nil {
		t.Fatal(err)
	}

	text, _ = callTool(t, s.handleGetMessages, map[string]any{"limit": 10})
	for _, want := range []string{"Messages with Alice (2 of 2)", "Me:", "lunch at noon?", "Alice:", "sure"} {
		if !strings.Contains(text, want) {
			t.Errorf("messages missing %q:\n%s", want, text)
		}
	}

	text, _ = callTool(t, s.handleUnreadCount, nil)
	if text != "Unread messages: 1" {
		t.Errorf("unread = %q", text)
	}

	text, _ = callTool(t, s.handleSearchMessages, map[string]any{"query": "lunch"})
	if !strings.Contains(text, "(1 found)") {
		t.Errorf("search = %q", text)
	}

	text, _ = callTool(t, s.handleStatus, nil)
	for _, want := range []string{"Session: authenticated", "Active chat: Alice", "Backend: ok"} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}

	text, isErr = callTool(t, s.handleLogout, nil)
	if isErr || text != "Signed out" {
		t.Errorf("logout = %q", text)
	}
	if s.chat.ActiveChat() != nil {
		t.Error("active chat survived logout")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("GET /health = %d %q", resp.StatusCode, body)
	}
}
