// Package convert implements the pure, stateless translation functions
// between the canonical message model and each wire facade's shape
// (§4.7 C7). Streaming translation lives in internal/streamconv.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/inferswitch/gateway/internal/canonical"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
)

// AnthropicToCanonical parses a decoded Anthropic Messages request into
// the canonical model. Content blocks that are plain strings are
// promoted to a single text block; arrays are parsed block-by-block.
func AnthropicToCanonical(req anthropicwire.MessageCreateRequest) (canonical.Request, error) {
	out := canonical.Request{
		Facade:        canonical.FacadeAnthropic,
		Model:         req.Model,
		Stream:        req.Stream,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Metadata:      req.Metadata,
		ToolChoice:    req.ToolChoice,
	}

	if len(req.System) > 0 {
		sys, err := parseAnthropicSystem(req.System)
		if err != nil {
			return canonical.Request{}, fmt.Errorf("system: %w", err)
		}
		out.System = sys
	}

	for _, m := range req.Messages {
		blocks, err := parseAnthropicContent(m.Content)
		if err != nil {
			return canonical.Request{}, fmt.Errorf("message content: %w", err)
		}
		out.Messages = append(out.Messages, canonical.Message{Role: canonical.Role(m.Role), Content: blocks})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, canonical.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return out, nil
}

func parseAnthropicSystem(raw json.RawMessage) ([]canonical.SystemBlock, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []canonical.SystemBlock{{Text: s}}, nil
	}
	var blocks []anthropicwire.SystemBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	out := make([]canonical.SystemBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, canonical.SystemBlock{Text: b.Text, CacheControl: b.CacheControl})
	}
	return out, nil
}

func parseAnthropicContent(raw json.RawMessage) ([]canonical.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []canonical.ContentBlock{{Type: canonical.BlockText, Text: s}}, nil
	}
	var blocks []anthropicwire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	out := make([]canonical.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		cb := canonical.ContentBlock{Type: canonical.BlockType(b.Type), CacheControl: b.CacheControl}
		switch cb.Type {
		case canonical.BlockText:
			cb.Text = b.Text
		case canonical.BlockImage:
			if b.Source != nil {
				cb.MediaType = b.Source.MediaType
				cb.Data = b.Source.Data
			}
		case canonical.BlockToolUse:
			cb.ID = b.ID
			cb.Name = b.Name
			cb.Input = b.Input
		case canonical.BlockToolResult:
			cb.ToolUseID = b.ToolUseID
			cb.Content = b.Content
			cb.IsError = b.IsError
		default:
			cb.Text = b.Text
		}
		out = append(out, cb)
	}
	return out, nil
}

// CanonicalToAnthropic renders the canonical model back into the
// Anthropic wire shape, used when the upstream backend is itself
// Anthropic-compatible but the canonical request needs re-encoding (e.g.
// after model-override substitution).
func CanonicalToAnthropic(req canonical.Request) anthropicwire.MessageCreateRequest {
	out := anthropicwire.MessageCreateRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
		Metadata:      req.Metadata,
		ToolChoice:    req.ToolChoice,
	}

	if len(req.System) == 1 && len(req.System[0].CacheControl) == 0 {
		out.System, _ = json.Marshal(req.System[0].Text)
	} else if len(req.System) > 0 {
		blocks := make([]anthropicwire.SystemBlock, 0, len(req.System))
		for _, s := range req.System {
			blocks = append(blocks, anthropicwire.SystemBlock{Type: "text", Text: s.Text, CacheControl: s.CacheControl})
		}
		out.System, _ = json.Marshal(blocks)
	}

	for _, m := range req.Messages {
		content := renderAnthropicContent(m.Content)
		out.Messages = append(out.Messages, anthropicwire.Message{Role: string(m.Role), Content: content})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicwire.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return out
}

func renderAnthropicContent(blocks []canonical.ContentBlock) json.RawMessage {
	if len(blocks) == 1 && blocks[0].Type == canonical.BlockText && len(blocks[0].CacheControl) == 0 {
		b, _ := json.Marshal(blocks[0].Text)
		return b
	}
	wire := make([]anthropicwire.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		cb := anthropicwire.ContentBlock{Type: string(b.Type), CacheControl: b.CacheControl}
		switch b.Type {
		case canonical.BlockText:
			cb.Text = b.Text
		case canonical.BlockImage:
			cb.Source = &anthropicwire.ImageSource{Type: "base64", MediaType: b.MediaType, Data: b.Data}
		case canonical.BlockToolUse:
			cb.ID = b.ID
			cb.Name = b.Name
			cb.Input = b.Input
		case canonical.BlockToolResult:
			cb.ToolUseID = b.ToolUseID
			cb.Content = b.Content
			cb.IsError = b.IsError
		}
		wire = append(wire, cb)
	}
	out, _ := json.Marshal(wire)
	return out
}

// AnthropicResponseToCanonical parses a non-streaming Anthropic response
// body for cache storage / further translation.
func AnthropicResponseToCanonical(body []byte) (anthropicwire.MessageResponse, error) {
	var resp anthropicwire.MessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return anthropicwire.MessageResponse{}, err
	}
	return resp, nil
}
