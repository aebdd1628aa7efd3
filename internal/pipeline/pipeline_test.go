package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/cache"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/classify"
	"github.com/inferswitch/gateway/internal/config"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	"github.com/inferswitch/gateway/internal/router"
)

// fakeAdapter lets tests script a sequence of outcomes per backend name.
type fakeAdapter struct {
	name     string
	outcomes []backend.Outcome
	calls    int
	lastReq  canonical.Request
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) next() backend.Outcome {
	if a.calls >= len(a.outcomes) {
		return a.outcomes[len(a.outcomes)-1]
	}
	o := a.outcomes[a.calls]
	a.calls++
	return o
}

func (a *fakeAdapter) Chat(ctx context.Context, req canonical.Request) backend.Outcome {
	a.lastReq = req
	return a.next()
}

func (a *fakeAdapter) ChatStream(ctx context.Context, req canonical.Request, facade canonical.Facade, w http.ResponseWriter) backend.Outcome {
	o := a.next()
	if o.Kind == backend.KindOK || o.Committed {
		_, _ = w.Write([]byte("data: ok\n\n"))
	}
	return o
}

func (a *fakeAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, backend.ErrorKind, error) {
	return 1, backend.KindOK, nil
}

func (a *fakeAdapter) Health(ctx context.Context) error { return nil }

func baseConfig(names ...string) config.Config {
	cfg := config.Config{
		Backends:    map[string]config.Backend{},
		Cache:       config.CacheConfig{Enabled: true, MaxEntries: 100, TTLSeconds: 300},
		DisableDurationSeconds: 300,
	}
	for _, n := range names {
		cfg.Backends[n] = config.Backend{Name: n, Kind: config.KindOpenAICompat, BaseURL: "http://example.invalid", APIKey: "k"}
	}
	return cfg
}

func validReq(model string) canonical.Request {
	return canonical.Request{
		Model:     model,
		MaxTokens: 100,
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hi"}}},
		},
	}
}

func newTestPipeline(cfg config.Config, adapters map[string]backend.Adapter) *Pipeline {
	reg := backend.NewRegistry()
	for name, a := range adapters {
		_ = name
		reg.Register(a)
	}
	avail := availability.New(300 * time.Second)
	rt := router.New(cfg, avail, classify.NewHeuristic())
	c := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	return New(cfg, rt, avail, c, reg)
}

func withModelProvider(cfg config.Config, model, backendName string) config.Config {
	cfg.ModelProviders = map[string]string{model: backendName}
	return cfg
}

func TestExecuteValidationRejectsEmptyMessages(t *testing.T) {
	cfg := baseConfig("a")
	p := newTestPipeline(cfg, nil)
	req := validReq("claude-x")
	req.Messages = nil

	_, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe == nil || pe.Kind != backend.KindBadRequest {
		t.Fatalf("expected bad_request, got %+v", pe)
	}
	if pe.HTTPStatus() != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", pe.HTTPStatus())
	}
}

func TestExecuteNoRouteReturns404(t *testing.T) {
	cfg := baseConfig()
	p := newTestPipeline(cfg, nil)
	req := validReq("unknown-model")

	_, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe == nil || !pe.NoRoute {
		t.Fatalf("expected no_route, got %+v", pe)
	}
	if pe.HTTPStatus() != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", pe.HTTPStatus())
	}
}

func TestExecuteUnarySuccessAdmitsToCache(t *testing.T) {
	cfg := withModelProvider(baseConfig("a"), "claude-x", "a")
	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{
		{Kind: backend.KindOK, Response: anthropicwire.MessageResponse{ID: "msg_1", Model: "claude-x"}},
	}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa})

	req := validReq("claude-x")
	res, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe != nil {
		t.Fatalf("unexpected error: %v", pe)
	}
	if res.CacheHit {
		t.Fatalf("expected cache miss on first call")
	}
	if res.Response.ID != "msg_1" {
		t.Fatalf("got response %+v", res.Response)
	}

	res2, pe2 := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe2 != nil {
		t.Fatalf("unexpected error on cache hit: %v", pe2)
	}
	if !res2.CacheHit {
		t.Fatalf("expected cache hit on second identical call")
	}
	if fa.calls != 1 {
		t.Fatalf("expected adapter called exactly once, got %d", fa.calls)
	}
}

func TestExecuteClampsMaxTokensToBackendLimit(t *testing.T) {
	cfg := withModelProvider(baseConfig("a"), "claude-x", "a")
	b := cfg.Backends["a"]
	b.MaxOutputTokens = 50
	cfg.Backends["a"] = b
	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{
		{Kind: backend.KindOK, Response: anthropicwire.MessageResponse{ID: "msg_1", Model: "claude-x"}},
	}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa})

	req := validReq("claude-x")
	req.MaxTokens = 500
	if _, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil); pe != nil {
		t.Fatalf("unexpected error: %v", pe)
	}
	if fa.lastReq.MaxTokens != 50 {
		t.Fatalf("max_tokens = %d, want clamped to 50", fa.lastReq.MaxTokens)
	}
}

func TestExecuteFailsOverOnUpstreamError(t *testing.T) {
	cfg := baseConfig("a", "b")
	cfg.ForceDifficultyRouting = true
	cfg.DifficultyModels = map[string][]string{"0-3": {"model-a", "model-b"}}
	cfg.ModelProviders = map[string]string{"model-a": "a", "model-b": "b"}

	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{{Kind: backend.KindUpstreamError}}}
	fb := &fakeAdapter{name: "b", outcomes: []backend.Outcome{{Kind: backend.KindOK, Response: anthropicwire.MessageResponse{ID: "msg_b"}}}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa, "b": fb})

	req := validReq("claude-x")
	res, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe != nil {
		t.Fatalf("unexpected error: %v", pe)
	}
	if res.Backend != "b" {
		t.Fatalf("expected failover to land on backend b, got %q", res.Backend)
	}
	if fa.calls != 1 {
		t.Fatalf("expected the failing candidate to be tried exactly once, got %d", fa.calls)
	}
}

func TestExecuteAuthFailedSurfacesImmediately(t *testing.T) {
	cfg := baseConfig("a")
	cfg.Fallback = config.Fallback{Provider: "a"}

	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{{Kind: backend.KindAuthFailed}}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa})

	req := validReq("claude-x")
	_, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe == nil || pe.Kind != backend.KindAuthFailed {
		t.Fatalf("expected auth_failed, got %+v", pe)
	}
	if pe.HTTPStatus() != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", pe.HTTPStatus())
	}
}

func TestExecuteRateLimitDisablesModel(t *testing.T) {
	cfg := baseConfig("a")
	cfg.Fallback = config.Fallback{Provider: "a"}

	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{{Kind: backend.KindRateLimited}}}
	avail := availability.New(300 * time.Second)
	rt := router.New(cfg, avail, classify.NewHeuristic())
	reg := backend.NewRegistry()
	reg.Register(fa)
	c := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	p := New(cfg, rt, avail, c, reg)

	req := validReq("claude-x")
	_, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil)
	if pe == nil || pe.Kind != backend.KindRateLimited {
		t.Fatalf("expected rate_limited, got %+v", pe)
	}
	if avail.IsAvailable("claude-x", time.Now()) {
		t.Fatalf("expected claude-x to be disabled after rate_limited outcome")
	}
}

func TestExecuteCommittedStreamStopsWithoutFailover(t *testing.T) {
	cfg := baseConfig("a", "b")
	cfg.Fallback = config.Fallback{Provider: "b"}
	cfg.ModelProviders = map[string]string{"claude-x": "a"}

	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{{Kind: backend.KindNetworkError, Committed: true}}}
	fb := &fakeAdapter{name: "b", outcomes: []backend.Outcome{{Kind: backend.KindOK}}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa, "b": fb})

	req := validReq("claude-x")
	req.Stream = true
	rec := httptest.NewRecorder()
	_, pe := p.Execute(context.Background(), ExecRequest{Canonical: req, Stream: true, ClientFacade: canonical.FacadeAnthropic}, rec)
	if pe == nil || !pe.Committed {
		t.Fatalf("expected a committed error, got %+v", pe)
	}
	if fb.calls != 0 {
		t.Fatalf("expected no failover once committed, but fallback was called %d times", fb.calls)
	}
}

func TestExecuteStreamingCacheHitReplays(t *testing.T) {
	cfg := withModelProvider(baseConfig("a"), "claude-x", "a")
	fa := &fakeAdapter{name: "a", outcomes: []backend.Outcome{
		{Kind: backend.KindOK, Response: anthropicwire.MessageResponse{ID: "msg_1", Model: "claude-x", Content: []anthropicwire.ContentBlock{{Type: "text", Text: "hello"}}}},
	}}
	p := newTestPipeline(cfg, map[string]backend.Adapter{"a": fa})

	req := validReq("claude-x")
	if _, pe := p.Execute(context.Background(), ExecRequest{Canonical: req}, nil); pe != nil {
		t.Fatalf("priming call failed: %v", pe)
	}

	req.Stream = true
	rec := httptest.NewRecorder()
	res, pe := p.Execute(context.Background(), ExecRequest{Canonical: req, Stream: true, ClientFacade: canonical.FacadeAnthropic}, rec)
	if pe != nil {
		t.Fatalf("unexpected error: %v", pe)
	}
	if !res.CacheHit || !res.Committed {
		t.Fatalf("expected cache hit + committed stream, got %+v", res)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected replayed SSE bytes written to the response")
	}
	if fa.calls != 1 {
		t.Fatalf("expected adapter not called again on cache hit, calls=%d", fa.calls)
	}
}
