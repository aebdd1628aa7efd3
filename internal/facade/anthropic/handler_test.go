package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/cache"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/classify"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/pipeline"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	"github.com/inferswitch/gateway/internal/router"
)

type stubAdapter struct {
	name    string
	outcome backend.Outcome
}

func (a *stubAdapter) Name() string { return a.name }
func (a *stubAdapter) Chat(ctx context.Context, req canonical.Request) backend.Outcome {
	return a.outcome
}
func (a *stubAdapter) ChatStream(ctx context.Context, req canonical.Request, facade canonical.Facade, w http.ResponseWriter) backend.Outcome {
	return a.outcome
}
func (a *stubAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, backend.ErrorKind, error) {
	return 7, backend.KindOK, nil
}
func (a *stubAdapter) Health(ctx context.Context) error { return nil }

func newTestHandler(t *testing.T, model, backendName string) *Handler {
	t.Helper()
	cfg := config.Config{
		Backends:    map[string]config.Backend{backendName: {Name: backendName, Kind: config.KindOpenAICompat, BaseURL: "http://example.invalid", APIKey: "k"}},
		ModelProviders: map[string]string{model: backendName},
		Cache:       config.CacheConfig{Enabled: true, MaxEntries: 100, TTLSeconds: 300},
		DisableDurationSeconds: 300,
	}
	stub := &stubAdapter{name: backendName, outcome: backend.Outcome{
		Kind: backend.KindOK,
		Response: anthropicwire.MessageResponse{
			ID: "msg_1", Model: model,
			Content: []anthropicwire.ContentBlock{{Type: "text", Text: "hi there"}},
		},
	}}
	reg := backend.NewRegistry()
	reg.Register(stub)
	avail := availability.New(300 * time.Second)
	rt := router.New(cfg, avail, classify.NewHeuristic())
	c := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	pipe := pipeline.New(cfg, rt, avail, c, reg)
	return NewHandler(pipe, nil, nil)
}

func TestCreateMessageReturnsUnaryResponse(t *testing.T) {
	h := newTestHandler(t, "claude-x", "a")
	body := `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.createMessage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp anthropicwire.MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if resp.ID != "msg_1" {
		t.Fatalf("got response %+v", resp)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestCreateMessageRejectsEmptyMessages(t *testing.T) {
	h := newTestHandler(t, "claude-x", "a")
	body := `{"model":"claude-x","max_tokens":100,"messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.createMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid error envelope: %v", err)
	}
	if env.Error.Type != "invalid_request_error" {
		t.Fatalf("error type = %q", env.Error.Type)
	}
}

func TestCountTokens(t *testing.T) {
	h := newTestHandler(t, "claude-x", "anthropic")
	body := `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/messages/count_tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.countTokens(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out["input_tokens"] != 7 {
		t.Fatalf("input_tokens = %d, want 7", out["input_tokens"])
	}
}

func TestChatTemplate(t *testing.T) {
	h := newTestHandler(t, "claude-x", "anthropic")
	body := `{"model":"claude-x","max_tokens":100,"system":"be terse","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/messages/chat-template", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.chatTemplate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		MessageCount int      `json:"message_count"`
		Roles        []string `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.MessageCount != 2 || out.Roles[0] != "system" {
		t.Fatalf("got %+v", out)
	}
}
