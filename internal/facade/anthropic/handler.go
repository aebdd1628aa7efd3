// Package anthropic implements the Anthropic-compatible facade (§6):
// POST /v1/messages, /v1/messages/count_tokens, /v1/messages/chat-template,
// and GET /v1/models. It only translates wire <-> canonical and calls
// the pipeline; it never talks to an upstream directly.
package anthropic

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/chattemplate"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/convert"
	"github.com/inferswitch/gateway/internal/logbus"
	"github.com/inferswitch/gateway/internal/metrics"
	"github.com/inferswitch/gateway/internal/pipeline"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	"github.com/inferswitch/gateway/internal/providers/anthropic"
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
	r.Post("/messages", h.createMessage)
	r.Post("/messages/count_tokens", h.countTokens)
	r.Post("/messages/chat-template", h.chatTemplate)
	r.Get("/models", h.listModels)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var wire anthropicwire.MessageCreateRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid json")
		return
	}

	creq, err := convert.AnthropicToCanonical(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	origModel := creq.Model

	overrides := config.FromHeaders(r.Header)
	start := time.Now()

	execReq := pipeline.ExecRequest{
		Canonical:     creq,
		ClientFacade:  canonical.FacadeAnthropic,
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
			h.m.ObserveRequest(string(canonical.FacadeAnthropic), res.Backend, pe.HTTPStatus(), latency)
		}
		if pe.Committed {
			// Bytes are already on the wire for this response; writing an
			// error envelope now would corrupt the stream.
			return
		}
		writeError(w, pe.HTTPStatus(), errorTypeFor(pe), pe.Error())
		return
	}

	h.publish(requestID, origModel, res, http.StatusOK, "", latency, creq.Stream, len(body))
	if h.m != nil {
		h.m.ObserveRequest(string(canonical.FacadeAnthropic), res.Backend, http.StatusOK, latency)
	}

	if res.Committed {
		return
	}

	out, _ := json.Marshal(res.Response)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) countTokens(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, 20<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	var wire anthropicwire.MessageCreateRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid json")
		return
	}
	creq, err := convert.AnthropicToCanonical(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	overrides := config.FromHeaders(r.Header)
	backendName := overrides.Backend
	if backendName == "" {
		backendName = "anthropic"
	}
	adapter, ok := h.pipe.Registry().Get(backendName)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found_error", "backend not configured")
		return
	}
	ctx := config.WithOverrides(r.Context(), overrides)
	count, kind, err := adapter.CountTokens(ctx, creq)
	if err != nil && kind != backend.KindOK {
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	out, _ := json.Marshal(map[string]int{"input_tokens": count})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) chatTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 20<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	var wire anthropicwire.MessageCreateRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid json")
		return
	}
	creq, err := convert.AnthropicToCanonical(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	out, _ := json.Marshal(chattemplate.Render(creq))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	overrides := config.FromHeaders(r.Header)
	backendName := overrides.Backend
	if backendName == "" {
		backendName = "anthropic"
	}
	b, ok := h.pipe.Config().Backends[backendName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found_error", "backend not configured")
		return
	}
	apiKey := b.APIKey
	if overrides.APIKey != "" {
		apiKey = overrides.APIKey
	}
	apiVer := "2023-06-01"
	if overrides.AnthropicVersion != "" {
		apiVer = overrides.AnthropicVersion
	}
	resp, err := anthropic.DoModels(r.Context(), anthropic.Upstream{BaseURL: b.BaseURL, APIKey: apiKey, APIVer: apiVer})
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", "upstream request failed")
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
		Facade:        string(canonical.FacadeAnthropic),
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
	case http.StatusPaymentRequired:
		return "billing_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "not_found_error"
	default:
		return "api_error"
	}
}

