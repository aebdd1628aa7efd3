package convert

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
)

// AnthropicResponseToOpenAI reverses §4.7's table for a completed,
// non-streaming response: text blocks concatenate into message content,
// tool_use blocks become tool_calls.
func AnthropicResponseToOpenAI(ar anthropicwire.MessageResponse) openaiwire.ChatCompletionResponse {
	var text strings.Builder
	var toolCalls []openaiwire.ToolCall
	for _, blk := range ar.Content {
		switch blk.Type {
		case "text":
			text.WriteString(blk.Text)
		case "tool_use":
			argBytes := blk.Input
			if len(argBytes) == 0 {
				argBytes = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, openaiwire.ToolCall{
				ID:   toolCallID(blk.ID),
				Type: "function",
				Function: openaiwire.ToolCallFunc{Name: blk.Name, Arguments: string(argBytes)},
			})
		}
	}

	finish := AnthropicStopReasonToOpenAIFinish(ar.StopReason)
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	content, _ := json.Marshal(text.String())
	msg := openaiwire.Message{Role: "assistant", Content: content, ToolCalls: toolCalls}

	return openaiwire.ChatCompletionResponse{
		ID:     "chatcmpl-" + uuid.NewString(),
		Object: "chat.completion",
		Model:  ar.Model,
		Choices: []openaiwire.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		Usage: openaiwire.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}
}

// OpenAIResponseToAnthropic reverses the direction: an OpenAI completion
// becomes an Anthropic message response with tool_calls rendered as
// tool_use blocks.
func OpenAIResponseToAnthropic(or openaiwire.ChatCompletionResponse, model string) anthropicwire.MessageResponse {
	text := ""
	var toolBlocks []anthropicwire.ContentBlock
	finish := ""
	if len(or.Choices) > 0 {
		msg := or.Choices[0].Message
		text = openAIContentToText(msg.Content)
		for _, tc := range msg.ToolCalls {
			toolBlocks = append(toolBlocks, anthropicwire.ContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: parseOpenAIArguments(tc.Function.Arguments),
			})
		}
		finish = or.Choices[0].FinishReason
	}

	blocks := make([]anthropicwire.ContentBlock, 0, 1+len(toolBlocks))
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, anthropicwire.ContentBlock{Type: "text", Text: text})
	}
	blocks = append(blocks, toolBlocks...)

	return anthropicwire.MessageResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: OpenAIFinishToAnthropicStopReason(finish, len(toolBlocks) > 0),
		Usage: anthropicwire.Usage{
			InputTokens:  or.Usage.PromptTokens,
			OutputTokens: or.Usage.CompletionTokens,
		},
	}
}

// SynthMessageID mints an id for a cache-replay reconstructed response.
func SynthMessageID() string { return "msg_" + uuid.NewString() }
