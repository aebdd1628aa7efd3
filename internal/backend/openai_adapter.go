package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/convert"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
	"github.com/inferswitch/gateway/internal/providers/openai"
	"github.com/inferswitch/gateway/internal/streamconv"
)

// openAICompatAdapter serves any backend speaking the OpenAI Chat
// Completions wire protocol: OpenAI itself, OpenRouter, LM Studio, or a
// user-declared OpenAI-compatible endpoint.
type openAICompatAdapter struct {
	backend   config.Backend
	proxyMode bool
}

// NewOpenAICompatAdapter builds the OpenAI-compatible adapter. When
// proxyMode is false the adapter never calls upstream: it short-circuits
// to a fixed canonical response (§4.10, "PROXY_MODE=false").
func NewOpenAICompatAdapter(b config.Backend, proxyMode bool) Adapter {
	return &openAICompatAdapter{backend: b, proxyMode: proxyMode}
}

func (a *openAICompatAdapter) Name() string { return a.backend.Name }

func (a *openAICompatAdapter) upstream(ctx context.Context) openai.Upstream {
	apiKey := a.backend.APIKey
	if overrides := config.OverridesFromContext(ctx); overrides.APIKey != "" {
		apiKey = overrides.APIKey
	}
	return openai.Upstream{BaseURL: a.backend.BaseURL, APIKey: apiKey}
}

func (a *openAICompatAdapter) Chat(ctx context.Context, req canonical.Request) Outcome {
	if !a.proxyMode {
		return Outcome{Response: nonProxyResponse(req), Kind: KindOK}
	}

	wire := convert.CanonicalToOpenAI(req)
	wire.Stream = false
	body, err := json.Marshal(wire)
	if err != nil {
		return Outcome{Kind: KindBadRequest, Err: err}
	}

	resp, err := openai.DoChatCompletions(ctx, a.upstream(ctx), body)
	if err != nil {
		return Outcome{Kind: ClassifyTransportError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: ClassifyTransportError(ctx, err), Err: err}
	}

	kind := ClassifyStatus(resp.StatusCode, respBody)
	if kind != KindOK {
		return Outcome{Kind: kind, Err: openAIUpstreamError(respBody)}
	}

	var parsed openaiwire.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Outcome{Kind: KindUpstreamError, Err: err}
	}
	return Outcome{Response: convert.OpenAIResponseToAnthropic(parsed, req.Model), Kind: KindOK}
}

func (a *openAICompatAdapter) ChatStream(ctx context.Context, req canonical.Request, clientFacade canonical.Facade, w http.ResponseWriter) Outcome {
	if !a.proxyMode {
		resp := nonProxyResponse(req)
		if clientFacade == canonical.FacadeAnthropic {
			streamconv.ReplayAnthropicAsStream(w, resp)
		} else {
			streamconv.ReplayOpenAIAsStream(w, convert.AnthropicResponseToOpenAI(resp))
		}
		return Outcome{Response: resp, Kind: KindOK, Committed: true}
	}

	wire := convert.CanonicalToOpenAI(req)
	wire.Stream = true
	body, err := json.Marshal(wire)
	if err != nil {
		return Outcome{Kind: KindBadRequest, Err: err}
	}

	resp, err := openai.DoChatCompletions(ctx, a.upstream(ctx), body)
	if err != nil {
		return Outcome{Kind: ClassifyTransportError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		kind := ClassifyStatus(resp.StatusCode, respBody)
		return Outcome{Kind: kind, Err: openAIUpstreamError(respBody)}
	}

	// Past this point bytes are already reaching the client; no further
	// failover is legal (§4.6's atomicity rule).
	var reconstructed anthropicwire.MessageResponse
	if clientFacade == canonical.FacadeAnthropic {
		ar, err := streamconv.OpenAIToAnthropic(w, resp.Body, req.Model)
		if err != nil {
			return Outcome{Kind: KindNetworkError, Err: err, Committed: true}
		}
		reconstructed = ar
	} else {
		or, err := streamconv.ReconstructOpenAI(w, resp.Body)
		if err != nil {
			return Outcome{Kind: KindNetworkError, Err: err, Committed: true}
		}
		reconstructed = convert.OpenAIResponseToAnthropic(or, req.Model)
	}
	return Outcome{Response: reconstructed, Kind: KindOK, Committed: true}
}

func (a *openAICompatAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, ErrorKind, error) {
	return heuristicTokenCount(req), KindOK, nil
}

func (a *openAICompatAdapter) Health(ctx context.Context) error {
	resp, err := openai.DoModels(ctx, a.upstream(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %q: health check returned %d", a.backend.Name, resp.StatusCode)
	}
	return nil
}

func openAIUpstreamError(body []byte) error {
	var env openaiwire.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return fmt.Errorf("%s: %s", env.Error.Type, env.Error.Message)
	}
	return fmt.Errorf("upstream error: %s", string(body))
}
