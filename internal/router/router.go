// Package router implements the eight-rule backend/model resolution
// order (§4.5): the client-facing model is substituted first, then rules
// are tried in order until one yields a non-empty candidate list.
package router

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/classify"
	"github.com/inferswitch/gateway/internal/config"
)

// Candidate is one (backend, model) pair the pipeline may try.
type Candidate struct {
	Backend string
	Model   string
}

// Decision is a non-empty, head-first-ordered RouteDecision (§3).
type Decision struct {
	Candidates []Candidate
	Rule       string // which resolution rule produced the primary, for logging
}

// ErrNoRoute is returned when every rule fails to produce a candidate.
type ErrNoRoute struct{ Model string }

func (e ErrNoRoute) Error() string { return "no_route: no backend for model " + e.Model }

// Router resolves a canonical request to a Decision.
type Router struct {
	cfg        config.Config
	avail      *availability.Registry
	classifier classify.Classifier
}

func New(cfg config.Config, avail *availability.Registry, classifier classify.Classifier) *Router {
	return &Router{cfg: cfg, avail: avail, classifier: classifier}
}

// Resolve applies the resolution rules in order, including the
// explicit-header and process-env overrides (rules 1-2), which take an
// explicit headerBackend argument rather than reading it off the request,
// since C1 hands the router only the documented per-request override
// subset. The Decision holds the candidates of the first rule that yields
// any; candidates of later rules, the fallback block included, are not
// appended behind them, and the fallback block's model is not checked
// against the availability registry.
func (r *Router) Resolve(ctx context.Context, req canonical.Request, headerBackend string, now time.Time) (Decision, error) {
	model := applyOverrides(r.cfg, req.Model)

	// Rule 1: explicit header override. No fallback list.
	if headerBackend != "" {
		if _, ok := r.cfg.Backends[headerBackend]; ok {
			return Decision{Candidates: []Candidate{{Backend: headerBackend, Model: model}}, Rule: "header_override"}, nil
		}
	}

	// Rule 2: process-wide backend override.
	if envBackend := strings.TrimSpace(os.Getenv("INFERSWITCH_BACKEND")); envBackend != "" {
		if _, ok := r.cfg.Backends[envBackend]; ok {
			return Decision{Candidates: []Candidate{{Backend: envBackend, Model: model}}, Rule: "env_override"}, nil
		}
	}

	// Rule 3: expert routing.
	if r.cfg.ForceExpertRouting && len(r.cfg.ExpertDefinitions) > 0 {
		expert := r.classifier.Expert(ctx, req.Messages, r.cfg.ExpertDefinitions)
		if expert != "" {
			if list := r.candidatesFromModelList(r.cfg.ExpertModels[expert], now); len(list) > 0 {
				return Decision{Candidates: list, Rule: "expert_routing"}, nil
			}
		}
	}

	// Rule 4: difficulty routing.
	if r.cfg.ForceDifficultyRouting && len(r.cfg.DifficultyModels) > 0 {
		bucket := r.classifier.Difficulty(ctx, req.Messages)
		if models, ok := lookupBucket(r.cfg.DifficultyModels, bucket); ok {
			if list := r.candidatesFromModelList(models, now); len(list) > 0 {
				return Decision{Candidates: list, Rule: "difficulty_routing"}, nil
			}
		}
	}

	// Rule 5: direct model -> backend mapping.
	if backend, ok := r.cfg.ModelProviders[model]; ok {
		if _, ok := r.cfg.Backends[backend]; ok && r.avail.IsAvailable(model, now) {
			return Decision{Candidates: []Candidate{{Backend: backend, Model: model}}, Rule: "model_providers"}, nil
		}
	}

	// Rule 6: pattern matching.
	if backend := patternMatch(model); backend != "" {
		if _, ok := r.cfg.Backends[backend]; ok && r.avail.IsAvailable(model, now) {
			return Decision{Candidates: []Candidate{{Backend: backend, Model: model}}, Rule: "pattern_match"}, nil
		}
	}

	// Rule 7: fallback block.
	if r.cfg.Fallback.Provider != "" {
		if _, ok := r.cfg.Backends[r.cfg.Fallback.Provider]; ok {
			fbModel := r.cfg.Fallback.Model
			if fbModel == "" {
				fbModel = model
			}
			return Decision{Candidates: []Candidate{{Backend: r.cfg.Fallback.Provider, Model: fbModel}}, Rule: "fallback"}, nil
		}
	}

	return Decision{}, ErrNoRoute{Model: model}
}

// candidatesFromModelList filters an ordered model list down to
// available models (§4.5: "the router filters out models where
// is_available == false"), resolving each surviving model id to a
// backend via model_providers or pattern matching.
func (r *Router) candidatesFromModelList(models []string, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(models))
	for _, m := range models {
		if !r.avail.IsAvailable(m, now) {
			continue
		}
		backend := r.cfg.ModelProviders[m]
		if backend == "" {
			backend = patternMatch(m)
		}
		if backend == "" {
			continue
		}
		if _, ok := r.cfg.Backends[backend]; !ok {
			continue
		}
		out = append(out, Candidate{Backend: backend, Model: m})
	}
	return out
}

func applyOverrides(cfg config.Config, model string) string {
	if sub, ok := cfg.ModelOverrides[model]; ok {
		return sub
	}
	if sub, ok := cfg.ModelOverrides["*"]; ok {
		return sub
	}
	if cfg.DefaultModelOverride != "" {
		return cfg.DefaultModelOverride
	}
	return model
}

func patternMatch(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	}
	return ""
}

// lookupBucket implements the range-containment lookup with numeric
// tie-break for difficulty_models keys that mix single integers and
// "lo-hi" ranges (§4.5, disambiguated per original_source's
// range-parsing in backends/router.py).
func lookupBucket(buckets map[string][]string, value int) ([]string, bool) {
	type parsed struct {
		lo, hi int
		models []string
	}
	var ranges []parsed
	for key, models := range buckets {
		lo, hi, err := config.ParseBucket(key)
		if err != nil {
			continue
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if value >= lo && value <= hi {
			ranges = append(ranges, parsed{lo: lo, hi: hi, models: models})
		}
	}
	if len(ranges) == 0 {
		return nil, false
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].lo != ranges[j].lo {
			return ranges[i].lo < ranges[j].lo
		}
		return ranges[i].hi < ranges[j].hi
	})
	return ranges[0].models, true
}
