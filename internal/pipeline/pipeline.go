// Package pipeline implements the request orchestrator (§4.6, C6): it
// validates a canonical request, consults the cache, resolves a route,
// and iterates the resulting candidates with failover until one
// succeeds or every candidate is exhausted. It never speaks a client
// wire format directly — facades hand it a canonical.Request and an
// http.ResponseWriter for the streaming case, and get back a universal
// anthropicwire.MessageResponse or a PipelineError to translate.
package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/inferswitch/gateway/internal/availability"
	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/cache"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/convert"
	"github.com/inferswitch/gateway/internal/fingerprint"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	"github.com/inferswitch/gateway/internal/router"
	"github.com/inferswitch/gateway/internal/streamconv"
)

// Pipeline wires the four collaborators the orchestration algorithm
// needs: a router to pick candidates, an availability registry the
// router already consults but that this package also writes to on
// failure, a cache, and the adapter registry that actually talks to
// upstreams.
type Pipeline struct {
	cfg      config.Config
	router   *router.Router
	avail    *availability.Registry
	cache    *cache.Cache
	registry *backend.Registry

	// now is overridden in tests; defaults to time.Now.
	now func() time.Time
}

func New(cfg config.Config, rt *router.Router, avail *availability.Registry, c *cache.Cache, reg *backend.Registry) *Pipeline {
	return &Pipeline{cfg: cfg, router: rt, avail: avail, cache: c, registry: reg, now: time.Now}
}

// Config returns the resolved configuration snapshot the pipeline was
// built with, for facade handlers that need backend metadata (e.g. the
// count_tokens and models endpoints, which bypass routing).
func (p *Pipeline) Config() config.Config { return p.cfg }

// Registry returns the adapter registry, for facade handlers that need
// direct adapter access outside the normal Execute path.
func (p *Pipeline) Registry() *backend.Registry { return p.registry }

// Cache returns the response cache, for the admin surface's
// GET /cache/stats and POST /cache/clear.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Availability returns the availability registry, for the admin
// surface's GET /backends/status.
func (p *Pipeline) Availability() *availability.Registry { return p.avail }

// ExecRequest is everything Execute needs beyond the ResponseWriter.
type ExecRequest struct {
	Canonical     canonical.Request
	ClientFacade  canonical.Facade
	HeaderBackend string
	Stream        bool

	// Overrides carries the per-request header overrides (§4.1) down to
	// the adapter layer via the request context.
	Overrides config.RequestOverrides
}

// ExecResult is what a facade handler needs to finish the response.
// Response is always populated on success, in both the unary and
// streaming case, since a cache admission needs it even when the bytes
// have already gone out over w.
type ExecResult struct {
	Response anthropicwire.MessageResponse
	Backend  string
	Model    string
	CacheHit bool

	// Committed is true once bytes have already been written to w
	// (a streaming cache replay, or a streaming upstream call that got
	// as far as a 2xx). A facade handler must not write anything more
	// to the response when this is true, success or failure.
	Committed bool
}

// Execute runs the full algorithm in §4.6: validate, fingerprint and
// check the cache, route, then iterate candidates with failover. w is
// only written to when req.Stream is true; for a unary request the
// caller encodes ExecResult.Response itself.
func (p *Pipeline) Execute(ctx context.Context, req ExecRequest, w http.ResponseWriter) (ExecResult, *PipelineError) {
	if pe := validateRequest(req.Canonical); pe != nil {
		return ExecResult{}, pe
	}

	ctx = config.WithOverrides(ctx, req.Overrides)

	fp := fingerprint.Compute(req.Canonical, req.Canonical.Model)

	if p.cfg.Cache.Enabled {
		if entry, ok := p.cache.Get(fp, p.now()); ok {
			var cached anthropicwire.MessageResponse
			if err := json.Unmarshal(entry.Response, &cached); err == nil {
				if req.Stream {
					p.replay(w, req.ClientFacade, cached)
					return ExecResult{Response: cached, CacheHit: true, Committed: true}, nil
				}
				return ExecResult{Response: cached, CacheHit: true}, nil
			}
		}
	}

	decision, err := p.router.Resolve(ctx, req.Canonical, req.HeaderBackend, p.now())
	if err != nil {
		return ExecResult{}, &PipelineError{NoRoute: true, Err: err}
	}

	resp, backendName, model, committed, pe := p.iterate(ctx, decision, req.Canonical, req.ClientFacade, req.Stream, w)
	if pe != nil {
		pe.Committed = committed
		return ExecResult{Committed: committed}, pe
	}

	// §5 Cancellation: a client that disconnected mid-call must not have
	// its (possibly truncated) response admitted to the cache.
	if p.cfg.Cache.Enabled && ctx.Err() == nil {
		if body, err := json.Marshal(resp); err == nil {
			p.cache.Put(fp, body, "application/json", p.now())
		}
	}

	return ExecResult{Response: resp, Backend: backendName, Model: model, Committed: committed}, nil
}

// clampMaxTokens enforces §3's invariant that max_tokens never exceeds
// what the candidate backend permits: if the client asked for more than
// backendName's configured limit, req is clamped in place and the clamp
// is logged. A zero limit means the backend imposes none.
func (p *Pipeline) clampMaxTokens(req *canonical.Request, backendName string) {
	b, ok := p.cfg.Backends[backendName]
	if !ok || b.MaxOutputTokens <= 0 || req.MaxTokens <= b.MaxOutputTokens {
		return
	}
	log.Printf("clamping max_tokens from %d to %d for backend %q model %q", req.MaxTokens, b.MaxOutputTokens, backendName, req.Model)
	req.MaxTokens = b.MaxOutputTokens
}

// iterate walks decision.Candidates in order, applying the failover,
// disablement, and atomicity rules of §4.6 point 5.
func (p *Pipeline) iterate(ctx context.Context, decision router.Decision, baseReq canonical.Request, clientFacade canonical.Facade, stream bool, w http.ResponseWriter) (anthropicwire.MessageResponse, string, string, bool, *PipelineError) {
	var worst *PipelineError

	for _, cand := range decision.Candidates {
		select {
		case <-ctx.Done():
			return anthropicwire.MessageResponse{}, "", "", false, &PipelineError{Kind: backend.KindCanceled, Err: ctx.Err()}
		default:
		}

		adapter, ok := p.registry.Get(cand.Backend)
		if !ok {
			continue
		}

		candReq := baseReq
		candReq.Model = cand.Model
		p.clampMaxTokens(&candReq, cand.Backend)

		var outcome backend.Outcome
		if stream {
			outcome = adapter.ChatStream(ctx, candReq, clientFacade, w)
		} else {
			outcome = adapter.Chat(ctx, candReq)
		}

		if outcome.Kind == backend.KindOK {
			return outcome.Response, cand.Backend, cand.Model, outcome.Committed, nil
		}

		if outcome.Committed {
			// Bytes are already on the wire for this candidate; no further
			// candidate may be tried and no error envelope may follow.
			return anthropicwire.MessageResponse{}, cand.Backend, cand.Model, true, &PipelineError{Kind: outcome.Kind, Err: outcome.Err, Committed: true}
		}

		pe := &PipelineError{Kind: outcome.Kind, Err: outcome.Err}

		switch outcome.Kind {
		case backend.KindAuthFailed, backend.KindBadRequest, backend.KindCanceled:
			// Surfaces immediately; not a failover-eligible condition.
			return anthropicwire.MessageResponse{}, cand.Backend, cand.Model, false, pe
		case backend.KindRateLimited, backend.KindInsufficientCredit:
			p.avail.Disable(cand.Model, p.now(), time.Duration(p.cfg.DisableDurationSeconds)*time.Second)
		}

		if worst == nil || severity(pe.Kind) >= severity(worst.Kind) {
			worst = pe
		}
	}

	if worst == nil {
		worst = &PipelineError{NoRoute: true}
	}
	return anthropicwire.MessageResponse{}, "", "", false, worst
}

// replay re-emits a cached universal response as an event stream in the
// client's facade, for a cache hit under a streaming request (§4.4).
func (p *Pipeline) replay(w http.ResponseWriter, facade canonical.Facade, resp anthropicwire.MessageResponse) {
	if facade == canonical.FacadeOpenAI {
		streamconv.ReplayOpenAIAsStream(w, convert.AnthropicResponseToOpenAI(resp))
		return
	}
	streamconv.ReplayAnthropicAsStream(w, resp)
}
