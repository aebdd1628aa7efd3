// Package backend adapts the canonical request model onto a concrete
// upstream provider's wire protocol and transport, and classifies its
// outcome into the closed ErrorKind set the router and cache consume
// (§4.2 C2).
package backend

import (
	"context"
	"net/http"

	"github.com/inferswitch/gateway/internal/canonical"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
)

// Outcome wraps a backend call's result: the universal response shape
// (an Anthropic MessageResponse, rich enough to hold any facade's
// content) plus its classified kind. Adapters always normalize onto
// this shape regardless of the upstream's native protocol, the same
// way canonical.Request normalizes requests.
type Outcome struct {
	Response anthropicwire.MessageResponse
	Kind     ErrorKind
	Err      error

	// Committed is true once the adapter has begun forwarding response
	// bytes to the client. Per §4.6's failover-atomicity rule, the
	// pipeline must not try another candidate once this is true,
	// regardless of Kind — the client has already received part of this
	// candidate's answer.
	Committed bool
}

// TokenProvider supplies a bearer token for OAuth-authenticated
// backends. internal/oauth implements this; it is declared here so
// this package has no dependency on internal/oauth.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Adapter is one upstream provider's implementation of the chat surface
// (§4.2): unary chat, streaming chat, token counting, and a health
// check used by the admin status endpoint.
type Adapter interface {
	// Name is the backend's configured name, e.g. "anthropic", "openrouter".
	Name() string

	// Chat performs a unary call and returns the normalized response.
	Chat(ctx context.Context, req canonical.Request) Outcome

	// ChatStream performs a streaming call, writing the stream to w in
	// clientFacade's wire shape as bytes arrive, and returns the
	// reconstructed unary equivalent for cache admission.
	ChatStream(ctx context.Context, req canonical.Request, clientFacade canonical.Facade, w http.ResponseWriter) Outcome

	// CountTokens estimates token usage for a request without
	// generating a completion.
	CountTokens(ctx context.Context, req canonical.Request) (int, ErrorKind, error)

	// Health performs a lightweight upstream reachability check.
	Health(ctx context.Context) error
}
