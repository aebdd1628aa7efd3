package pipeline

import (
	"strings"

	"github.com/inferswitch/gateway/internal/backend"
	"github.com/inferswitch/gateway/internal/canonical"
)

// validateRequest enforces the shape every facade's inbound translator
// is expected to produce (§4.6 point 1): a missing or malformed field
// here is a client mistake, not an upstream one, so it bypasses routing
// and the cache entirely.
func validateRequest(req canonical.Request) *PipelineError {
	if strings.TrimSpace(req.Model) == "" {
		return &PipelineError{Kind: backend.KindBadRequest, Message: "model is required"}
	}
	if req.MaxTokens <= 0 {
		return &PipelineError{Kind: backend.KindBadRequest, Message: "max_tokens must be greater than zero"}
	}
	if len(req.Messages) == 0 {
		return &PipelineError{Kind: backend.KindBadRequest, Message: "messages must not be empty"}
	}
	for _, m := range req.Messages {
		if len(m.Content) == 0 {
			return &PipelineError{Kind: backend.KindBadRequest, Message: "message content must not be empty"}
		}
	}
	return nil
}
