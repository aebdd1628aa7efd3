package convert

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/inferswitch/gateway/internal/canonical"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
)

// OpenAIToCanonical implements the left column of §4.7's table in
// reverse: a leading system-role message becomes canonical.System, tool
// messages become tool_result blocks on the preceding assistant turn's
// sibling, and assistant tool_calls become tool_use blocks.
func OpenAIToCanonical(req openaiwire.ChatCompletionsRequest) (canonical.Request, error) {
	out := canonical.Request{
		Facade:      canonical.FacadeOpenAI,
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		ToolChoice:  req.ToolChoice,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		out.StopSequences = parseOpenAIStop(req.Stop)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = append(out.System, canonical.SystemBlock{Text: openAIContentToText(m.Content)})
		case "tool":
			out.Messages = append(out.Messages, canonical.Message{
				Role: canonical.RoleUser,
				Content: []canonical.ContentBlock{{
					Type:      canonical.BlockToolResult,
					ToolUseID: m.ToolCallID,
					Content:   openAIContentToRaw(m.Content),
				}},
			})
		default:
			blocks := openAIContentToBlocks(m.Content)
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, canonical.ContentBlock{
					Type:  canonical.BlockToolUse,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: parseOpenAIArguments(tc.Function.Arguments),
				})
			}
			role := canonical.RoleUser
			if m.Role == "assistant" {
				role = canonical.RoleAssistant
			}
			out.Messages = append(out.Messages, canonical.Message{Role: role, Content: blocks})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, canonical.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return out, nil
}

func parseOpenAIStop(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var arr []string
	_ = json.Unmarshal(raw, &arr)
	return arr
}

func parseOpenAIArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

func openAIContentToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openaiwire.ContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func openAIContentToRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}
	return raw
}

func openAIContentToBlocks(raw json.RawMessage) []canonical.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []canonical.ContentBlock{{Type: canonical.BlockText, Text: s}}
	}
	var parts []openaiwire.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	out := make([]canonical.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, canonical.ContentBlock{Type: canonical.BlockText, Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				mediaType, data := parseDataURL(p.ImageURL.URL)
				out = append(out, canonical.ContentBlock{Type: canonical.BlockImage, MediaType: mediaType, Data: data})
			}
		}
	}
	return out
}

func parseDataURL(url string) (mediaType, data string) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", url
	}
	rest := url[len(prefix):]
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return "", url
	}
	return rest[:i], rest[i+len(";base64,"):]
}

// CanonicalToOpenAI implements §4.7's table left-to-right: system blocks
// become a leading system message, image blocks become image_url parts,
// tool_use becomes assistant tool_calls, tool_result becomes a role:tool
// message.
func CanonicalToOpenAI(req canonical.Request) openaiwire.ChatCompletionsRequest {
	out := openaiwire.ChatCompletionsRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		ToolChoice:  req.ToolChoice,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	if len(req.StopSequences) > 0 {
		out.Stop, _ = json.Marshal(req.StopSequences)
	}

	if len(req.System) > 0 {
		var b strings.Builder
		for i, s := range req.System {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(s.Text)
		}
		content, _ := json.Marshal(b.String())
		out.Messages = append(out.Messages, openaiwire.Message{Role: "system", Content: content})
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, canonicalMessageToOpenAI(m)...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openaiwire.Tool{
			Type: "function",
			Function: openaiwire.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return out
}

func canonicalMessageToOpenAI(m canonical.Message) []openaiwire.Message {
	// A single tool_result block on its own message becomes a standalone
	// role:tool message; mixed content otherwise renders as one message
	// with text/image parts plus any tool_use blocks as tool_calls.
	if len(m.Content) == 1 && m.Content[0].Type == canonical.BlockToolResult {
		b := m.Content[0]
		return []openaiwire.Message{{
			Role:       "tool",
			Content:    openAIContentFromToolResult(b.Content),
			ToolCallID: b.ToolUseID,
		}}
	}

	role := string(m.Role)
	var textOnly = true
	for _, b := range m.Content {
		if b.Type != canonical.BlockText {
			textOnly = false
			break
		}
	}

	msg := openaiwire.Message{Role: role}
	var toolCalls []openaiwire.ToolCall
	var parts []openaiwire.ContentPart
	var plainText strings.Builder

	for _, b := range m.Content {
		switch b.Type {
		case canonical.BlockText:
			if textOnly {
				plainText.WriteString(b.Text)
			} else {
				parts = append(parts, openaiwire.ContentPart{Type: "text", Text: b.Text})
			}
		case canonical.BlockImage:
			parts = append(parts, openaiwire.ContentPart{
				Type:     "image_url",
				ImageURL: &openaiwire.ImageURL{URL: "data:" + b.MediaType + ";base64," + b.Data},
			})
		case canonical.BlockToolUse:
			argBytes := b.Input
			if len(argBytes) == 0 {
				argBytes = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, openaiwire.ToolCall{
				ID:   toolCallID(b.ID),
				Type: "function",
				Function: openaiwire.ToolCallFunc{Name: b.Name, Arguments: string(argBytes)},
			})
		case canonical.BlockToolResult:
			// tool_result mixed into a larger content list: emitted as a
			// separate trailing role:tool message.
		}
	}

	if textOnly {
		msg.Content, _ = json.Marshal(plainText.String())
	} else if len(parts) > 0 {
		msg.Content, _ = json.Marshal(parts)
	}
	msg.ToolCalls = toolCalls

	out := []openaiwire.Message{msg}
	for _, b := range m.Content {
		if b.Type == canonical.BlockToolResult {
			out = append(out, openaiwire.Message{
				Role:       "tool",
				Content:    openAIContentFromToolResult(b.Content),
				ToolCallID: b.ToolUseID,
			})
		}
	}
	return out
}

func openAIContentFromToolResult(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out, _ := json.Marshal(s)
		return out
	}
	return raw
}

func toolCallID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

// AnthropicStopReasonToOpenAIFinish maps §4.7's response finish-reason
// table left-to-right.
func AnthropicStopReasonToOpenAIFinish(sr string) string {
	switch strings.TrimSpace(sr) {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return "stop"
	}
}

// OpenAIFinishToAnthropicStopReason maps §4.7's table right-to-left.
func OpenAIFinishToAnthropicStopReason(fr string, hasToolCalls bool) string {
	if hasToolCalls || fr == "tool_calls" {
		return "tool_use"
	}
	switch strings.TrimSpace(fr) {
	case "length":
		return "max_tokens"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
