package grader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/pkg/provider/llm"
	llmmock "github.com/MrWong99/vivavoce/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func fullRequest() evaluation.Request {
	return evaluation.Request{
		Question1: "What topic?", Answer1: "Optics",
		Question2: "Applications?", Answer2: "Cameras",
		Question3: "Impact?", Answer3: "Phones",
		Question4: "Challenges?", Answer4: "Cost",
	}
}

func TestPrompt(t *testing.T) {
	t.Parallel()
	p := Prompt(fullRequest())
	for _, want := range []string{
		"Question 1: What topic?\nAnswer 1: Optics",
		"Question 4: Challenges?\nAnswer 4: Cost",
		"Topic Understanding (25 points)",
		"Challenges (25 points)",
		"Score: [total score]",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Score: 80\nOverall: good",
		Usage:   llm.Usage{TotalTokens: 120},
	}}
	g := New(p, WithMetrics(testMetrics(t)))

	fb, err := g.Evaluate(context.Background(), fullRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.ParseScore(fb) != 80 {
		t.Errorf("feedback = %q", fb)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestEvaluate_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    *llmmock.Provider
		req  evaluation.Request
	}{
		{"llm error", &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}, fullRequest()},
		{"empty completion", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}, fullRequest()},
		{"missing question", &llmmock.Provider{}, evaluation.Request{Question1: "Q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New(tt.p, WithMetrics(testMetrics(t)))
			fb, err := g.Evaluate(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(fb, "Score: 0\nError: ") {
				t.Errorf("feedback = %q", fb)
			}
			if evaluation.ParseScore(fb) != 0 {
				t.Error("failure feedback scored non-zero")
			}
		})
	}
}

func TestEvaluate_Options(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Score: 1"}}
	g := New(p, WithTemperature(0.2), WithMaxTokens(50), WithMetrics(testMetrics(t)))
	if _, err := g.Evaluate(context.Background(), fullRequest()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	req := p.Calls()[0].Req
	if req.Temperature != 0.2 || req.MaxTokens != 50 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
}

func TestEvaluate_TruncatedFeedbackKept(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Replies: []llmmock.Reply{{Response: &llm.CompletionResponse{
		Content:   "Score: 55\nTopic Understanding: partial",
		Model:     "gpt-4o-mini",
		Truncated: true,
	}}}}
	g := New(p, WithMetrics(testMetrics(t)))
	fb, err := g.Evaluate(context.Background(), fullRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.ParseScore(fb) != 55 {
		t.Errorf("feedback = %q", fb)
	}
}

func TestEvaluate_WrapsProviderError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Replies: []llmmock.Reply{{Err: llm.ErrUnauthorized}}}
	g := New(p, WithMetrics(testMetrics(t)))
	fb, err := g.Evaluate(context.Background(), fullRequest())
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(fb, "unauthorized") {
		t.Errorf("feedback = %q", fb)
	}
}
