package streamconv

import (
	"encoding/json"
	"net/http"

	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
)

// ReplayAnthropicAsStream re-emits a cached Anthropic response as an
// Anthropic event stream, for a cache hit where the client asked for
// streaming (§4.4: "cached bytes are re-emitted as a streaming event
// sequence if the client asked for streaming").
func ReplayAnthropicAsStream(w http.ResponseWriter, resp anthropicwire.MessageResponse) {
	flusher, _ := w.(http.Flusher)

	writeAnthropicEvent(w, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": resp.ID, "type": "message", "role": "assistant",
			"content": []any{}, "model": resp.Model,
			"stop_reason": nil, "stop_sequence": nil,
			"usage": map[string]any{"input_tokens": resp.Usage.InputTokens, "output_tokens": 0},
		},
	})
	flush(flusher)

	for idx, blk := range resp.Content {
		switch blk.Type {
		case "text":
			writeAnthropicEvent(w, "content_block_start", map[string]any{
				"type": "content_block_start", "index": idx,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
			writeAnthropicEvent(w, "content_block_delta", map[string]any{
				"type": "content_block_delta", "index": idx,
				"delta": map[string]any{"type": "text_delta", "text": blk.Text},
			})
		case "tool_use":
			input := blk.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			writeAnthropicEvent(w, "content_block_start", map[string]any{
				"type": "content_block_start", "index": idx,
				"content_block": map[string]any{"type": "tool_use", "id": blk.ID, "name": blk.Name, "input": map[string]any{}},
			})
			writeAnthropicEvent(w, "content_block_delta", map[string]any{
				"type": "content_block_delta", "index": idx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": string(input)},
			})
		}
		writeAnthropicEvent(w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
		flush(flusher)
	}

	writeAnthropicEvent(w, "message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{"stop_reason": resp.StopReason},
		"usage": map[string]any{"output_tokens": resp.Usage.OutputTokens},
	})
	writeAnthropicEvent(w, "message_stop", map[string]any{"type": "message_stop"})
	flush(flusher)
}

// ReplayOpenAIAsStream re-emits a cached OpenAI completion as an OpenAI
// chunk stream.
func ReplayOpenAIAsStream(w http.ResponseWriter, resp openaiwire.ChatCompletionResponse) {
	flusher, _ := w.(http.Flusher)

	writeOpenAIChunk(w, chunkOf(resp.ID, resp.Model, map[string]any{"role": "assistant"}, ""))
	flush(flusher)

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		var text string
		_ = json.Unmarshal(msg.Content, &text)
		if text != "" {
			writeOpenAIChunk(w, chunkOf(resp.ID, resp.Model, map[string]any{"content": text}, ""))
			flush(flusher)
		}
		for i, tc := range msg.ToolCalls {
			writeOpenAIChunk(w, chunkOf(resp.ID, resp.Model, map[string]any{
				"tool_calls": []any{map[string]any{
					"index": i, "id": tc.ID, "type": "function",
					"function": map[string]any{"name": tc.Function.Name, "arguments": tc.Function.Arguments},
				}},
			}, ""))
			flush(flusher)
		}
		writeOpenAIChunk(w, chunkOf(resp.ID, resp.Model, map[string]any{}, resp.Choices[0].FinishReason))
	} else {
		writeOpenAIChunk(w, chunkOf(resp.ID, resp.Model, map[string]any{}, "stop"))
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flush(flusher)
}
