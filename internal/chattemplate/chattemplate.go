// Package chattemplate renders a canonical request as Hugging
// Face-style chat template text, for the /v1/messages/chat-template
// endpoint (§4.10). It is not part of the Anthropic API; it exists so
// callers can inspect how a request would be flattened into a single
// prompt string before a model ever sees it.
package chattemplate

import (
	"fmt"
	"strings"

	"github.com/inferswitch/gateway/internal/canonical"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Formatted struct {
	ChatML         string `json:"chatml"`
	ChatMLNoPrompt string `json:"chatml_no_prompt"`
}

type Response struct {
	ChatMessages []ChatMessage `json:"chat_messages"`
	Formatted    Formatted     `json:"formatted"`
	MessageCount int           `json:"message_count"`
	Roles        []string      `json:"roles"`
}

// Render flattens a canonical request's system prompt and messages into
// plain-text chat-template messages, then formats them two ways: with
// and without a trailing assistant generation prompt.
func Render(req canonical.Request) Response {
	var messages []ChatMessage
	if sys := flattenSystem(req.System); sys != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: sys})
	}
	for _, m := range req.Messages {
		messages = append(messages, ChatMessage{Role: string(m.Role), Content: flattenContent(m.Content)})
	}

	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.Role
	}

	return Response{
		ChatMessages: messages,
		Formatted: Formatted{
			ChatML:         apply(messages, true),
			ChatMLNoPrompt: apply(messages, false),
		},
		MessageCount: len(messages),
		Roles:        roles,
	}
}

func flattenSystem(blocks []canonical.SystemBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// flattenContent collapses a message's content blocks into one string,
// the same way every non-text block is reduced to a bracketed
// placeholder before being handed to a model that only understands
// plain chat turns.
func flattenContent(blocks []canonical.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case canonical.BlockText:
			parts = append(parts, b.Text)
		case canonical.BlockImage:
			parts = append(parts, "[Image]")
		case canonical.BlockToolUse:
			parts = append(parts, fmt.Sprintf("[Tool Use: %s]\n%s", b.Name, string(b.Input)))
		case canonical.BlockToolResult:
			parts = append(parts, fmt.Sprintf("[Tool Result: %s]\n%s", b.ToolUseID, string(b.Content)))
		default:
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func apply(messages []ChatMessage, addGenerationPrompt bool) string {
	parts := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		parts = append(parts, fmt.Sprintf("<|im_start|>%s\n%s<|im_end|>", m.Role, m.Content))
	}
	if addGenerationPrompt {
		parts = append(parts, "<|im_start|>assistant\n")
	}
	return strings.Join(parts, "\n")
}
