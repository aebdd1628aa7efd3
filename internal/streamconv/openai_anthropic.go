// Package streamconv translates streaming responses between OpenAI's
// `data: <json>\n\n` chunk framing and Anthropic's named-event SSE
// taxonomy (§4.7 "Streaming translation"), and synthesizes a stream in
// either shape from a cached unary response (§4.4).
package streamconv

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/inferswitch/gateway/internal/convert"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
)

// OpenAIToAnthropic consumes an OpenAI SSE stream from r and writes the
// equivalent Anthropic event stream to w, flushing after every event so
// the pipeline can honor the "first byte" failover-atomicity rule (§4.6).
// It also returns the reconstructed unary response, for cache admission
// on clean termination.
func OpenAIToAnthropic(w http.ResponseWriter, r io.Reader, model string) (anthropicwire.MessageResponse, error) {
	flusher, _ := w.(http.Flusher)

	msgID := convert.SynthMessageID()
	nextIndex := 0
	openBlocks := map[int]bool{}
	blockKind := map[int]string{}
	toolIndexByID := map[string]int{}
	toolNameByIndex := map[int]string{}
	toolArgsByIndex := map[int]*strings.Builder{}
	var text strings.Builder
	finishReason := ""

	writeAnthropicEvent(w, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            msgID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
	flush(flusher)

	inputTokens, outputTokens := 0, 0

	br := bufio.NewReader(r)
	for {
		block, err := readSSEBlock(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			return anthropicwire.MessageResponse{}, err
		}

		data := extractSSEData(block)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if u, ok := chunk["usage"].(map[string]any); ok {
			if v, ok := u["prompt_tokens"].(float64); ok {
				inputTokens = int(v)
			}
			if v, ok := u["completion_tokens"].(float64); ok {
				outputTokens = int(v)
			}
		}
		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		c0, _ := choices[0].(map[string]any)
		delta, _ := c0["delta"].(map[string]any)
		if delta != nil {
			if reasoning, ok := delta["reasoning_content"].(string); ok && reasoning != "" {
				idx := 0
				if !openBlocks[idx] {
					writeAnthropicEvent(w, "content_block_start", map[string]any{
						"type": "content_block_start", "index": idx,
						"content_block": map[string]any{"type": "thinking", "thinking": ""},
					})
					openBlocks[idx] = true
					blockKind[idx] = "thinking"
					if nextIndex <= idx {
						nextIndex = idx + 1
					}
				}
				writeAnthropicEvent(w, "content_block_delta", map[string]any{
					"type": "content_block_delta", "index": idx,
					"delta": map[string]any{"type": "thinking_delta", "thinking": reasoning},
				})
				flush(flusher)
			}

			if t, ok := delta["content"].(string); ok && t != "" {
				idx := 0
				if openBlocks[0] && blockKind[0] == "thinking" {
					idx = 1
				}
				if !openBlocks[idx] {
					writeAnthropicEvent(w, "content_block_start", map[string]any{
						"type": "content_block_start", "index": idx,
						"content_block": map[string]any{"type": "text", "text": ""},
					})
					openBlocks[idx] = true
					blockKind[idx] = "text"
					if nextIndex <= idx {
						nextIndex = idx + 1
					}
				}
				writeAnthropicEvent(w, "content_block_delta", map[string]any{
					"type": "content_block_delta", "index": idx,
					"delta": map[string]any{"type": "text_delta", "text": t},
				})
				text.WriteString(t)
				flush(flusher)
			}
			if tcRaw, ok := delta["tool_calls"].([]any); ok && len(tcRaw) > 0 {
				for _, tci := range tcRaw {
					tc, ok := tci.(map[string]any)
					if !ok {
						continue
					}
					id, _ := tc["id"].(string)
					fn, _ := tc["function"].(map[string]any)
					name, _ := fn["name"].(string)
					args, _ := fn["arguments"].(string)

					idx, seen := toolIndexByID[id]
					if !seen && id != "" {
						idx = nextIndex
						nextIndex++
						toolIndexByID[id] = idx
						toolNameByIndex[idx] = name
						toolArgsByIndex[idx] = &strings.Builder{}
						writeAnthropicEvent(w, "content_block_start", map[string]any{
							"type": "content_block_start", "index": idx,
							"content_block": map[string]any{"type": "tool_use", "id": id, "name": name, "input": map[string]any{}},
						})
						openBlocks[idx] = true
						blockKind[idx] = "tool_use"
						flush(flusher)
					} else if !seen {
						continue
					}
					if args != "" {
						if b, ok := toolArgsByIndex[idx]; ok {
							b.WriteString(args)
						}
						writeAnthropicEvent(w, "content_block_delta", map[string]any{
							"type": "content_block_delta", "index": idx,
							"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
						})
						flush(flusher)
					}
				}
			}
		}
		if fr, ok := c0["finish_reason"].(string); ok && fr != "" {
			finishReason = fr
			break
		}
	}

	stopReason := mapOpenAIFinish(finishReason)

	blocks := make([]anthropicwire.ContentBlock, 0, nextIndex)
	for idx := 0; idx < nextIndex; idx++ {
		if !openBlocks[idx] {
			continue
		}
		writeAnthropicEvent(w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
		switch blockKind[idx] {
		case "text":
			blocks = append(blocks, anthropicwire.ContentBlock{Type: "text", Text: text.String()})
		case "tool_use":
			args := "{}"
			if b, ok := toolArgsByIndex[idx]; ok && b.Len() > 0 {
				args = b.String()
			}
			var id string
			for tid, tidx := range toolIndexByID {
				if tidx == idx {
					id = tid
				}
			}
			blocks = append(blocks, anthropicwire.ContentBlock{Type: "tool_use", ID: id, Name: toolNameByIndex[idx], Input: json.RawMessage(args)})
		}
	}
	writeAnthropicEvent(w, "message_delta", map[string]any{
		"type": "message_delta", "delta": map[string]any{"stop_reason": stopReason},
		"usage": map[string]any{"output_tokens": outputTokens},
	})
	writeAnthropicEvent(w, "message_stop", map[string]any{"type": "message_stop"})
	flush(flusher)

	return anthropicwire.MessageResponse{
		ID: msgID, Type: "message", Role: "assistant", Model: model,
		Content: blocks, StopReason: stopReason,
		Usage: anthropicwire.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}, nil
}

// AnthropicToOpenAI consumes an Anthropic SSE stream from r and writes
// the equivalent OpenAI chunk stream to w, returning the reconstructed
// unary completion for cache admission.
func AnthropicToOpenAI(w http.ResponseWriter, r io.Reader, model string) (openaiwire.ChatCompletionResponse, error) {
	flusher, _ := w.(http.Flusher)

	id := "chatcmpl-" + uuid.NewString()
	sentRole := false
	finishReason := "stop"
	toolIDsByIndex := map[int]string{}
	toolNamesByIndex := map[int]string{}
	toolArgsByIndex := map[int]*strings.Builder{}
	var text strings.Builder
	inputTokens, outputTokens := 0, 0

	br := bufio.NewReader(r)
	for {
		block, err := readSSEBlock(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			return openaiwire.ChatCompletionResponse{}, err
		}

		data := extractSSEData(block)
		if data == "" {
			continue
		}

		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if !sentRole {
			writeOpenAIChunk(w, chunkOf(id, model, map[string]any{"role": "assistant"}, ""))
			flush(flusher)
			sentRole = true
		}

		switch ev["type"] {
		case "message_start":
			if m, ok := ev["message"].(map[string]any); ok {
				if u, ok := m["usage"].(map[string]any); ok {
					if v, ok := u["input_tokens"].(float64); ok {
						inputTokens = int(v)
					}
				}
			}
		case "content_block_start":
			idx, _ := ev["index"].(float64)
			cb, _ := ev["content_block"].(map[string]any)
			if cb == nil {
				continue
			}
			if cb["type"] == "thinking" {
				writeOpenAIChunk(w, chunkOf(id, model, map[string]any{"reasoning_content": ""}, ""))
				flush(flusher)
			}
			if cb["type"] == "tool_use" {
				idv, _ := cb["id"].(string)
				name, _ := cb["name"].(string)
				if strings.TrimSpace(idv) == "" || strings.TrimSpace(name) == "" {
					continue
				}
				toolIDsByIndex[int(idx)] = idv
				toolNamesByIndex[int(idx)] = name
				toolArgsByIndex[int(idx)] = &strings.Builder{}
				writeOpenAIChunk(w, chunkOf(id, model, map[string]any{
					"tool_calls": []any{map[string]any{
						"index": int(idx), "id": idv, "type": "function",
						"function": map[string]any{"name": name, "arguments": ""},
					}},
				}, ""))
				flush(flusher)
			}
		case "content_block_delta":
			delta, _ := ev["delta"].(map[string]any)
			if delta == nil {
				continue
			}
			switch delta["type"] {
			case "thinking_delta":
				if t, ok := delta["thinking"].(string); ok && t != "" {
					writeOpenAIChunk(w, chunkOf(id, model, map[string]any{"reasoning_content": t}, ""))
					flush(flusher)
				}
			case "text_delta":
				if t, ok := delta["text"].(string); ok && t != "" {
					writeOpenAIChunk(w, chunkOf(id, model, map[string]any{"content": t}, ""))
					text.WriteString(t)
					flush(flusher)
				}
			case "input_json_delta":
				idx, _ := ev["index"].(float64)
				partial, _ := delta["partial_json"].(string)
				toolID := toolIDsByIndex[int(idx)]
				if strings.TrimSpace(toolID) == "" || partial == "" {
					continue
				}
				if b, ok := toolArgsByIndex[int(idx)]; ok {
					b.WriteString(partial)
				}
				writeOpenAIChunk(w, chunkOf(id, model, map[string]any{
					"tool_calls": []any{map[string]any{
						"index": int(idx), "id": toolID, "type": "function",
						"function": map[string]any{"arguments": partial},
					}},
				}, ""))
				flush(flusher)
			}
		case "message_delta":
			d, _ := ev["delta"].(map[string]any)
			if u, ok := ev["usage"].(map[string]any); ok {
				if v, ok := u["output_tokens"].(float64); ok {
					outputTokens = int(v)
				}
			}
			if d == nil {
				continue
			}
			if sr, ok := d["stop_reason"].(string); ok && sr != "" {
				finishReason = mapAnthropicStop(sr)
			}
		case "message_stop":
			writeOpenAIChunk(w, chunkOf(id, model, map[string]any{}, finishReason))
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
			flush(flusher)
			return buildChatResponse(id, model, text.String(), toolNamesByIndex, toolArgsByIndex, finishReason, inputTokens, outputTokens), nil
		}
	}

	writeOpenAIChunk(w, chunkOf(id, model, map[string]any{}, finishReason))
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flush(flusher)
	return buildChatResponse(id, model, text.String(), toolNamesByIndex, toolArgsByIndex, finishReason, inputTokens, outputTokens), nil
}

func buildChatResponse(id, model, text string, names map[int]string, args map[int]*strings.Builder, finish string, in, out int) openaiwire.ChatCompletionResponse {
	var toolCalls []openaiwire.ToolCall
	for idx, name := range names {
		a := "{}"
		if b, ok := args[idx]; ok && b.Len() > 0 {
			a = b.String()
		}
		toolCalls = append(toolCalls, openaiwire.ToolCall{Type: "function", Function: openaiwire.ToolCallFunc{Name: name, Arguments: a}})
	}
	content, _ := json.Marshal(text)
	return openaiwire.ChatCompletionResponse{
		ID: id, Object: "chat.completion", Model: model,
		Choices: []openaiwire.Choice{{Index: 0, Message: openaiwire.Message{Role: "assistant", Content: content, ToolCalls: toolCalls}, FinishReason: finish}},
		Usage:   openaiwire.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}
}

func mapOpenAIFinish(fr string) string {
	switch strings.TrimSpace(fr) {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func mapAnthropicStop(sr string) string {
	switch sr {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

func chunkOf(id, model string, delta map[string]any, finish string) map[string]any {
	choice := map[string]any{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	return map[string]any{
		"id": id, "object": "chat.completion.chunk", "model": model,
		"choices": []any{choice},
	}
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}

func writeAnthropicEvent(w http.ResponseWriter, name string, data any) {
	b, _ := json.Marshal(data)
	_, _ = w.Write([]byte("event: " + name + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n\n"))
}

func writeOpenAIChunk(w http.ResponseWriter, chunk any) {
	b, _ := json.Marshal(chunk)
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n\n"))
}

func readSSEBlock(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return b.String(), io.EOF
			}
			return "", err
		}
		if line == "\n" || line == "\r\n" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func extractSSEData(block string) string {
	lines := strings.Split(block, "\n")
	var dataLines []string
	for _, ln := range lines {
		ln = strings.TrimRight(ln, "\r")
		if strings.HasPrefix(ln, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(ln, "data:")))
		}
	}
	return strings.TrimSpace(strings.Join(dataLines, "\n"))
}
