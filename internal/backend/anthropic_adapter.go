package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inferswitch/gateway/internal/canonical"
	"github.com/inferswitch/gateway/internal/config"
	"github.com/inferswitch/gateway/internal/convert"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	"github.com/inferswitch/gateway/internal/providers/anthropic"
	"github.com/inferswitch/gateway/internal/streamconv"
)

// anthropicBetaOAuth is the beta header Anthropic requires on requests
// authenticated with an OAuth access token rather than a static API key.
const anthropicBetaOAuth = "oauth-2025-04-20"

type anthropicAdapter struct {
	backend   config.Backend
	tokens    TokenProvider
	proxyMode bool
}

// NewAnthropicAdapter builds the Anthropic-native adapter. tokens may be
// nil when the backend's auth mode is static_key. When proxyMode is
// false the adapter never calls upstream at all: it short-circuits to a
// fixed canonical response (§4.10, "PROXY_MODE=false").
func NewAnthropicAdapter(b config.Backend, tokens TokenProvider, proxyMode bool) Adapter {
	return &anthropicAdapter{backend: b, tokens: tokens, proxyMode: proxyMode}
}

func (a *anthropicAdapter) Name() string { return a.backend.Name }

func (a *anthropicAdapter) upstream(ctx context.Context) (anthropic.Upstream, error) {
	overrides := config.OverridesFromContext(ctx)

	up := anthropic.Upstream{
		BaseURL: a.backend.BaseURL,
		APIVer:  "2023-06-01",
		Timeout: time.Duration(a.backend.TimeoutSeconds) * time.Second,
		Headers: map[string]string{},
	}
	if overrides.AnthropicVersion != "" {
		up.APIVer = overrides.AnthropicVersion
	}
	switch a.backend.AuthMode {
	case config.AuthOAuth:
		if a.tokens == nil {
			return anthropic.Upstream{}, fmt.Errorf("backend %q: oauth auth mode has no token provider configured", a.backend.Name)
		}
		tok, err := a.tokens.Token(ctx)
		if err != nil {
			return anthropic.Upstream{}, err
		}
		up.Headers["Authorization"] = "Bearer " + tok
		up.Headers["anthropic-beta"] = anthropicBetaOAuth
	default:
		up.APIKey = a.backend.APIKey
		if overrides.APIKey != "" {
			up.APIKey = overrides.APIKey
		}
	}
	return up, nil
}

func (a *anthropicAdapter) Chat(ctx context.Context, req canonical.Request) Outcome {
	if !a.proxyMode {
		return Outcome{Response: nonProxyResponse(req), Kind: KindOK}
	}

	up, err := a.upstream(ctx)
	if err != nil {
		return Outcome{Kind: KindAuthFailed, Err: err}
	}

	wire := convert.CanonicalToAnthropic(req)
	wire.Stream = false
	body, err := json.Marshal(wire)
	if err != nil {
		return Outcome{Kind: KindBadRequest, Err: err}
	}

	resp, err := anthropic.DoMessages(ctx, up, body)
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
		return Outcome{Kind: kind, Err: upstreamError(respBody)}
	}

	parsed, err := convert.AnthropicResponseToCanonical(respBody)
	if err != nil {
		return Outcome{Kind: KindUpstreamError, Err: err}
	}
	return Outcome{Response: parsed, Kind: KindOK}
}

func (a *anthropicAdapter) ChatStream(ctx context.Context, req canonical.Request, clientFacade canonical.Facade, w http.ResponseWriter) Outcome {
	if !a.proxyMode {
		resp := nonProxyResponse(req)
		if clientFacade == canonical.FacadeOpenAI {
			streamconv.ReplayOpenAIAsStream(w, convert.AnthropicResponseToOpenAI(resp))
		} else {
			streamconv.ReplayAnthropicAsStream(w, resp)
		}
		return Outcome{Response: resp, Kind: KindOK, Committed: true}
	}

	up, err := a.upstream(ctx)
	if err != nil {
		return Outcome{Kind: KindAuthFailed, Err: err}
	}

	wire := convert.CanonicalToAnthropic(req)
	wire.Stream = true
	body, err := json.Marshal(wire)
	if err != nil {
		return Outcome{Kind: KindBadRequest, Err: err}
	}

	resp, err := anthropic.DoMessages(ctx, up, body)
	if err != nil {
		return Outcome{Kind: ClassifyTransportError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		kind := ClassifyStatus(resp.StatusCode, respBody)
		return Outcome{Kind: kind, Err: upstreamError(respBody)}
	}

	// Past this point the adapter has committed: the upstream returned a
	// 2xx and translated bytes are about to reach the client, so no
	// further failover is legal regardless of what happens next.
	var reconstructed anthropicwire.MessageResponse
	if clientFacade == canonical.FacadeOpenAI {
		or, err := streamconv.AnthropicToOpenAI(w, resp.Body, req.Model)
		if err != nil {
			return Outcome{Kind: KindNetworkError, Err: err, Committed: true}
		}
		reconstructed = convert.OpenAIResponseToAnthropic(or, req.Model)
	} else {
		reconstructed, err = streamconv.ReconstructAnthropic(w, resp.Body)
		if err != nil {
			return Outcome{Kind: KindNetworkError, Err: err, Committed: true}
		}
	}
	return Outcome{Response: reconstructed, Kind: KindOK, Committed: true}
}

func (a *anthropicAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, ErrorKind, error) {
	if !a.proxyMode {
		return heuristicTokenCount(req), KindOK, nil
	}

	up, err := a.upstream(ctx)
	if err != nil {
		return 0, KindAuthFailed, err
	}

	wire := convert.CanonicalToAnthropic(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return 0, KindBadRequest, err
	}

	resp, err := anthropic.DoCountTokens(ctx, up, body)
	if err != nil {
		return heuristicTokenCount(req), KindOK, nil
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return heuristicTokenCount(req), KindOK, nil
	}

	var parsed struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.InputTokens == 0 {
		return heuristicTokenCount(req), KindOK, nil
	}
	return parsed.InputTokens, KindOK, nil
}

func (a *anthropicAdapter) Health(ctx context.Context) error {
	up, err := a.upstream(ctx)
	if err != nil {
		return err
	}
	resp, err := anthropic.DoModels(ctx, up)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %q: health check returned %d", a.backend.Name, resp.StatusCode)
	}
	return nil
}

func upstreamError(body []byte) error {
	var env anthropicwire.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return fmt.Errorf("%s: %s", env.Error.Type, env.Error.Message)
	}
	return fmt.Errorf("upstream error: %s", string(body))
}
