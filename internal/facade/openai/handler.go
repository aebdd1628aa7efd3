// Package openai implements the OpenAI-compatible facade (§6):
// POST /v1/chat/completions and GET /v1/models. It only translates wire
// <-> canonical and calls the pipeline; it never talks to an upstream
// directly.
package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/convert"
	"github.com/inferswitch/gateway/internal/logbus"
	"github.com/inferswitch/gateway/internal/metrics"
	"github.com/inferswitch/gateway/internal/pipeline"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
	"github.com/inferswitch/gateway/internal/providers/openai"
)

type Handler struct {
	pipe *pipeline.Pipeline
	m    *metrics.Metrics
	bus  *logbus.Bus
}

func NewHandler(pipe *pipeline.Pipeline, m *metrics.Metrics, bus *logbus.Bus) *Handler {
	return &Handler{pipe: pipe, m: m, bus: bus}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/chat/completions", h.chatCompletions)
	r.Get("/models", h.listModels)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid_request", "failed to read request body")
		return
	}

	var wire openaiwire.ChatCompletionsRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid_json", "invalid json")
		return
	}

	creq, err := convert.OpenAIToCanonical(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid_request", err.Error())
		return
	}
	origModel := creq.Model

	overrides := config.FromHeaders(r.Header)
	start := time.Now()

	execReq := pipeline.ExecRequest{
		Canonical:     creq,
		ClientFacade:  canonical.FacadeOpenAI,
		HeaderBackend: overrides.Backend,
		Stream:        creq.Stream,
		Overrides:     overrides,
	}

	if creq.Stream {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}

	res, pe := h.pipe.Execute(ctx, execReq, w)
	latency := time.Since(start)

	if pe != nil {
		h.publish(requestID, origModel, res, pe.HTTPStatus(), pe.Error(), latency, creq.Stream, len(body))
		if h.m != nil {
			h.m.ObserveRequest(string(canonical.FacadeOpenAI), res.Backend, pe.HTTPStatus(), latency)
		}
		if pe.Committed {
			return
		}
		writeError(w, pe.HTTPStatus(), errorTypeFor(pe), errorCodeFor(pe), pe.Error())
		return
	}

	h.publish(requestID, origModel, res, http.StatusOK, "", latency, creq.Stream, len(body))
	if h.m != nil {
		h.m.ObserveRequest(string(canonical.FacadeOpenAI), res.Backend, http.StatusOK, latency)
	}

	if res.Committed {
		return
	}

	out, _ := json.Marshal(convert.AnthropicResponseToOpenAI(res.Response))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	overrides := config.FromHeaders(r.Header)
	backendName := overrides.Backend
	if backendName == "" {
		backendName = "openai"
	}
	b, ok := h.pipe.Config().Backends[backendName]
	if !ok {
		writeError(w, http.StatusNotFound, "invalid_request_error", "not_found", "backend not configured")
		return
	}
	apiKey := b.APIKey
	if overrides.APIKey != "" {
		apiKey = overrides.APIKey
	}
	resp, err := openai.DoModels(r.Context(), openai.Upstream{BaseURL: b.BaseURL, APIKey: apiKey})
	if err != nil {
		writeError(w, http.StatusBadGateway, "server_error", "upstream_failed", "upstream request failed")
		return
	}
	defer resp.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) publish(requestID, origModel string, res pipeline.ExecResult, status int, errMsg string, latency time.Duration, stream bool, requestBytes int) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(logbus.Event{
		TS:            time.Now(),
		RequestID:     requestID,
		Facade:        string(canonical.FacadeOpenAI),
		RequestModel:  origModel,
		UpstreamModel: res.Model,
		ProviderType:  res.Backend,
		Stream:        stream,
		RequestBytes:  requestBytes,
		InputTokens:   int64(res.Response.Usage.InputTokens),
		OutputTokens:  int64(res.Response.Usage.OutputTokens),
		Status:        status,
		LatencyMs:     latency.Milliseconds(),
		Error:         errMsg,
	})
}

func requestIDFor(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("x-request-id"))
	if id == "" {
		id = uuid.NewString()
	}
	return id
}

func errorTypeFor(pe *pipeline.PipelineError) string {
	switch pe.HTTPStatus() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadRequest, http.StatusPaymentRequired:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

func errorCodeFor(pe *pipeline.PipelineError) string {
	switch pe.HTTPStatus() {
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "invalid_api_key"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusPaymentRequired:
		return "insufficient_quota"
	default:
		return "upstream_error"
	}
}
