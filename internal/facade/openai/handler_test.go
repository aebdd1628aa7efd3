package openai

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
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
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
	return 3, backend.KindOK, nil
}
func (a *stubAdapter) Health(ctx context.Context) error { return nil }

func newTestHandler(t *testing.T, model, backendName string) *Handler {
	t.Helper()
	cfg := config.Config{
		Backends:               map[string]config.Backend{backendName: {Name: backendName, Kind: config.KindOpenAICompat, BaseURL: "http://example.invalid", APIKey: "k"}},
		ModelProviders:         map[string]string{model: backendName},
		Cache:                  config.CacheConfig{Enabled: true, MaxEntries: 100, TTLSeconds: 300},
		DisableDurationSeconds: 300,
	}
	stub := &stubAdapter{name: backendName, outcome: backend.Outcome{
		Kind: backend.KindOK,
		Response: anthropicwire.MessageResponse{
			ID: "msg_1", Model: model,
			Content:    []anthropicwire.ContentBlock{{Type: "text", Text: "hi there"}},
			StopReason: "end_turn",
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

func TestChatCompletionsReturnsOpenAIShape(t *testing.T) {
	h := newTestHandler(t, "gpt-x", "a")
	body := `{"model":"gpt-x","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.chatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp openaiwire.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("got response %+v", resp)
	}
}

func TestChatCompletionsRejectsMissingModel(t *testing.T) {
	h := newTestHandler(t, "gpt-x", "a")
	body := `{"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.chatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (missing model), body = %s", rec.Code, rec.Body.String())
	}
}
