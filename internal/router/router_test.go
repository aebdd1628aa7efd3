package router

import (
	"context"
	"testing"
	"time"

	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/classify"
	"github.com/inferswitch/gateway/internal/config"
)

func baseCfg() config.Config {
	return config.Config{
		Backends: map[string]config.Backend{
			"anthropic": {Name: "anthropic", Kind: config.KindAnthropic},
			"openai":    {Name: "openai", Kind: config.KindOpenAICompat},
			"lm-studio": {Name: "lm-studio", Kind: config.KindOpenAICompat},
		},
		ModelOverrides: map[string]string{},
		ModelProviders: map[string]string{
			"claude-3-5-sonnet-20241022": "anthropic",
		},
	}
}

func req(model string) canonical.Request {
	return canonical.Request{Model: model, MaxTokens: 100, Messages: []canonical.Message{
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hi"}}},
	}}
}

func TestHeaderOverrideWinsOverEverything(t *testing.T) {
	cfg := baseCfg()
	r := New(cfg, availability.New(time.Minute), classify.NewHeuristic())
	d, err := r.Resolve(context.Background(), req("claude-3-5-sonnet-20241022"), "lm-studio", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Candidates) != 1 || d.Candidates[0].Backend != "lm-studio" {
		t.Fatalf("expected lm-studio override, got %+v", d)
	}
}

func TestDirectModelProvidersMapping(t *testing.T) {
	cfg := baseCfg()
	r := New(cfg, availability.New(time.Minute), classify.NewHeuristic())
	d, err := r.Resolve(context.Background(), req("claude-3-5-sonnet-20241022"), "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Candidates[0].Backend != "anthropic" || d.Rule != "model_providers" {
		t.Fatalf("expected anthropic via model_providers, got %+v", d)
	}
}

func TestPatternMatchFallback(t *testing.T) {
	cfg := baseCfg()
	r := New(cfg, availability.New(time.Minute), classify.NewHeuristic())
	d, err := r.Resolve(context.Background(), req("gpt-4o-mini"), "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Candidates[0].Backend != "openai" || d.Rule != "pattern_match" {
		t.Fatalf("expected openai via pattern_match, got %+v", d)
	}
}

func TestNoRouteWhenNothingMatches(t *testing.T) {
	cfg := config.Config{Backends: map[string]config.Backend{}, ModelOverrides: map[string]string{}}
	r := New(cfg, availability.New(time.Minute), classify.NewHeuristic())
	_, err := r.Resolve(context.Background(), req("unknown-model"), "", time.Now())
	if err == nil {
		t.Fatalf("expected no_route error")
	}
}

func TestDisabledModelSkippedInExpertList(t *testing.T) {
	cfg := baseCfg()
	cfg.ForceExpertRouting = true
	cfg.ExpertDefinitions = map[string]string{"coding": "software engineering and programming tasks"}
	cfg.ExpertModels = map[string][]string{"coding": {"claude-3-5-sonnet-20241022", "gpt-4o-mini"}}
	cfg.ModelProviders["gpt-4o-mini"] = "openai"

	avail := availability.New(time.Minute)
	now := time.Now()
	avail.Disable("claude-3-5-sonnet-20241022", now, time.Minute)

	r := New(cfg, avail, classify.NewHeuristic())
	rq := req("claude-3-5-sonnet-20241022")
	// The heuristic classifier picks "coding" only when the text shares a
	// word with its description.
	rq.Messages[0].Content[0].Text = "help me with this programming task"
	d, err := r.Resolve(context.Background(), rq, "", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Candidates) == 0 || d.Candidates[0].Model != "gpt-4o-mini" {
		t.Fatalf("expected disabled primary skipped, got %+v", d)
	}
}

func TestModelOverrideAppliedBeforeRouting(t *testing.T) {
	cfg := baseCfg()
	cfg.ModelOverrides["old-model"] = "claude-3-5-sonnet-20241022"
	r := New(cfg, availability.New(time.Minute), classify.NewHeuristic())
	d, err := r.Resolve(context.Background(), req("old-model"), "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Candidates[0].Model != "claude-3-5-sonnet-20241022" {
		t.Fatalf("expected override applied, got %+v", d)
	}
}
