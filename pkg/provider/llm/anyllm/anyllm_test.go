package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/parleyhq/parley/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a technical interviewer.",
		Messages: []llm.Message{
			{Role: "assistant", Content: "Please introduce yourself."},
			{Role: "user", Content: "I'm a backend developer."},
		},
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q, want %q", params.Model, "gemini-2.0-flash")
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages (system + 2), got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[1].Role != "assistant" || params.Messages[2].Role != "user" {
		t.Errorf("conversation roles out of order: %q, %q", params.Messages[1].Role, params.Messages[2].Role)
	}
}

func TestBuildParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "m"}

	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   128,
	})
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature not forwarded: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("max tokens not forwarded: %v", params.MaxTokens)
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature should be omitted")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens should be omitted")
	}
}

// ── constructor validation ────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty provider name should be rejected")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model should be rejected")
	}
	if _, err := New("not-a-provider", "m"); err == nil {
		t.Error("unknown provider name should be rejected")
	}
}
