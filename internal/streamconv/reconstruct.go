package streamconv

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/inferswitch/gateway/internal/convert"
	anthropicwire "github.com/inferswitch/gateway/internal/proto/anthropic"
	openaiwire "github.com/inferswitch/gateway/internal/proto/openai"
)

// ReconstructAnthropic forwards an Anthropic SSE stream to w byte-for-byte
// (no translation needed, since upstream and client share a wire shape)
// while accumulating its content into a MessageResponse for cache
// admission (§4.6 point 5).
func ReconstructAnthropic(w http.ResponseWriter, r io.Reader) (anthropicwire.MessageResponse, error) {
	flusher, _ := w.(http.Flusher)

	msgID := convert.SynthMessageID()
	model := ""
	blockKind := map[int]string{}
	toolIDByIndex := map[int]string{}
	toolNameByIndex := map[int]string{}
	toolArgsByIndex := map[int]*strings.Builder{}
	var text strings.Builder
	stopReason := ""
	inputTokens, outputTokens := 0, 0

	br := bufio.NewReader(r)
	for {
		block, err := readSSEBlock(br)
		if block != "" {
			_, _ = w.Write([]byte(block))
			_, _ = w.Write([]byte("\n"))
			flush(flusher)
		}
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
		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev["type"] {
		case "message_start":
			if m, ok := ev["message"].(map[string]any); ok {
				if id, ok := m["id"].(string); ok && id != "" {
					msgID = id
				}
				if mdl, ok := m["model"].(string); ok {
					model = mdl
				}
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
			kind, _ := cb["type"].(string)
			blockKind[int(idx)] = kind
			if kind == "tool_use" {
				toolIDByIndex[int(idx)], _ = cb["id"].(string)
				toolNameByIndex[int(idx)], _ = cb["name"].(string)
				toolArgsByIndex[int(idx)] = &strings.Builder{}
			}
		case "content_block_delta":
			idx, _ := ev["index"].(float64)
			delta, _ := ev["delta"].(map[string]any)
			if delta == nil {
				continue
			}
			switch delta["type"] {
			case "text_delta":
				if t, ok := delta["text"].(string); ok {
					text.WriteString(t)
				}
			case "input_json_delta":
				if b, ok := toolArgsByIndex[int(idx)]; ok {
					if p, ok := delta["partial_json"].(string); ok {
						b.WriteString(p)
					}
				}
			}
		case "message_delta":
			if d, ok := ev["delta"].(map[string]any); ok {
				if sr, ok := d["stop_reason"].(string); ok && sr != "" {
					stopReason = sr
				}
			}
			if u, ok := ev["usage"].(map[string]any); ok {
				if v, ok := u["output_tokens"].(float64); ok {
					outputTokens = int(v)
				}
			}
		case "message_stop":
			// terminal; loop continues until EOF to drain any trailer.
		}
	}

	indices := make([]int, 0, len(blockKind))
	for idx := range blockKind {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	blocks := make([]anthropicwire.ContentBlock, 0, len(indices))
	for _, idx := range indices {
		switch blockKind[idx] {
		case "text":
			blocks = append(blocks, anthropicwire.ContentBlock{Type: "text", Text: text.String()})
		case "tool_use":
			args := "{}"
			if b, ok := toolArgsByIndex[idx]; ok && b.Len() > 0 {
				args = b.String()
			}
			blocks = append(blocks, anthropicwire.ContentBlock{
				Type: "tool_use", ID: toolIDByIndex[idx], Name: toolNameByIndex[idx], Input: json.RawMessage(args),
			})
		}
	}

	return anthropicwire.MessageResponse{
		ID: msgID, Type: "message", Role: "assistant", Model: model,
		Content: blocks, StopReason: stopReason,
		Usage: anthropicwire.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}, nil
}

// ReconstructOpenAI forwards an OpenAI chunk stream to w byte-for-byte
// while accumulating its content into a ChatCompletionResponse.
func ReconstructOpenAI(w http.ResponseWriter, r io.Reader) (openaiwire.ChatCompletionResponse, error) {
	flusher, _ := w.(http.Flusher)

	id := "chatcmpl-" + uuid.NewString()
	model := ""
	finishReason := "stop"
	toolNames := map[int]string{}
	toolArgs := map[int]*strings.Builder{}
	var text strings.Builder
	inputTokens, outputTokens := 0, 0

	br := bufio.NewReader(r)
	for {
		block, err := readSSEBlock(br)
		if block != "" {
			_, _ = w.Write([]byte(block))
			_, _ = w.Write([]byte("\n"))
			flush(flusher)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return openaiwire.ChatCompletionResponse{}, err
		}

		data := extractSSEData(block)
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if v, ok := chunk["id"].(string); ok && v != "" {
			id = v
		}
		if v, ok := chunk["model"].(string); ok && v != "" {
			model = v
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
		if delta, ok := c0["delta"].(map[string]any); ok {
			if t, ok := delta["content"].(string); ok {
				text.WriteString(t)
			}
			if tcRaw, ok := delta["tool_calls"].([]any); ok {
				for _, tci := range tcRaw {
					tc, ok := tci.(map[string]any)
					if !ok {
						continue
					}
					idx := 0
					if v, ok := tc["index"].(float64); ok {
						idx = int(v)
					}
					fn, _ := tc["function"].(map[string]any)
					if name, ok := fn["name"].(string); ok && name != "" {
						toolNames[idx] = name
					}
					if toolArgs[idx] == nil {
						toolArgs[idx] = &strings.Builder{}
					}
					if args, ok := fn["arguments"].(string); ok {
						toolArgs[idx].WriteString(args)
					}
				}
			}
		}
		if fr, ok := c0["finish_reason"].(string); ok && fr != "" {
			finishReason = fr
		}
	}

	return buildChatResponse(id, model, text.String(), toolNames, toolArgs, finishReason, inputTokens, outputTokens), nil
}
