package chattemplate

import (
	"strings"
	"testing"

	"github.com/inferswitch/gateway/internal/canonical"
)

func TestRenderIncludesSystemAndMessages(t *testing.T) {
	req := canonical.Request{
		System: []canonical.SystemBlock{{Text: "be terse"}},
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hi"}}},
			{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hello"}}},
		},
	}

	resp := Render(req)

	if resp.MessageCount != 3 {
		t.Fatalf("message count = %d, want 3", resp.MessageCount)
	}
	if resp.Roles[0] != "system" || resp.Roles[1] != "user" || resp.Roles[2] != "assistant" {
		t.Fatalf("roles = %v", resp.Roles)
	}
	if !strings.Contains(resp.Formatted.ChatML, "<|im_start|>system\nbe terse<|im_end|>") {
		t.Fatalf("chatml missing system turn: %q", resp.Formatted.ChatML)
	}
	if !strings.HasSuffix(resp.Formatted.ChatML, "<|im_start|>assistant\n") {
		t.Fatalf("chatml missing generation prompt: %q", resp.Formatted.ChatML)
	}
	if strings.HasSuffix(resp.Formatted.ChatMLNoPrompt, "<|im_start|>assistant\n") {
		t.Fatalf("chatml_no_prompt should not carry a generation prompt: %q", resp.Formatted.ChatMLNoPrompt)
	}
}

func TestRenderFlattensNonTextBlocks(t *testing.T) {
	req := canonical.Request{
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockImage}}},
			{Role: canonical.RoleAssistant, Content: []canonical.ContentBlock{{Type: canonical.BlockToolUse, Name: "lookup", Input: []byte(`{"q":"x"}`)}}},
		},
	}

	resp := Render(req)

	if resp.ChatMessages[0].Content != "[Image]" {
		t.Fatalf("image placeholder = %q", resp.ChatMessages[0].Content)
	}
	if !strings.Contains(resp.ChatMessages[1].Content, "Tool Use: lookup") {
		t.Fatalf("tool use rendering = %q", resp.ChatMessages[1].Content)
	}
}

func TestRenderEmptyRequestProducesNoMessages(t *testing.T) {
	resp := Render(canonical.Request{})
	if resp.MessageCount != 0 || len(resp.ChatMessages) != 0 {
		t.Fatalf("expected no messages, got %+v", resp)
	}
	if resp.Formatted.ChatMLNoPrompt != "" {
		t.Fatalf("expected empty chatml_no_prompt, got %q", resp.Formatted.ChatMLNoPrompt)
	}
}
