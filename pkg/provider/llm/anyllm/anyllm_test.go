package anyllm

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/vivavoce/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	t.Parallel()
	p := &Provider{name: "ollama", model: "llama3.1"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "Grade this.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "answers"}},
		Temperature:  0.7,
		MaxTokens:    1000,
	})
	if params.Model != "llama3.1" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != llm.RoleSystem || params.Messages[1].ContentString() != "answers" {
		t.Errorf("messages = %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 1000 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	params := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("temperature/max tokens = %v/%v, want unset", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "openai"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %q", want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	_, err := New("nonexistent", "model")
	if err == nil || !strings.Contains(err.Error(), "anthropic") {
		t.Errorf("err = %v, want unsupported backend listing the supported ones", err)
	}
}

func TestComplete_EmptyRequest(t *testing.T) {
	t.Parallel()
	p := &Provider{name: "ollama", model: "m"}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, llm.ErrEmptyRequest) {
		t.Errorf("err = %v, want ErrEmptyRequest", err)
	}
}
