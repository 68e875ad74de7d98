// Package grader scores completed assessments with a language model.
//
// The four answers are graded against a fixed rubric of four criteria worth
// 25 points each. The model is asked to open its reply with "Score: N" so
// that the dialogue can read the total back with [evaluation.ParseScore].
package grader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/pkg/provider/llm"
)

const (
	// DefaultTemperature is the sampling temperature for grading.
	DefaultTemperature = 0.7

	// DefaultMaxTokens caps the length of the feedback.
	DefaultMaxTokens = 1000
)

const rubric = `Scoring (100 points total):
1. Topic Understanding (25 points): Does Answer 1 show deep understanding?
2. Real-Time Focus (25 points): Does Answer 2 mention immediate/live applications?
3. Technology Impact (25 points): Does Answer 3 explain modern tech impact?
4. Challenges (25 points): Does Answer 4 identify specific implementation challenges?

Provide feedback in this format:
Score: [total score]
Topic Understanding: [feedback on Answer 1]
Real-Time Applications: [feedback on Answer 2]
Technology Impact: [feedback on Answer 3]
Challenges: [feedback on Answer 4]
Overall: [summary feedback]`

// ErrIncomplete is returned when a submission lacks a question.
var ErrIncomplete = errors.New("grader: incomplete submission")

// Option is a functional option for [New].
type Option func(*Grader)

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(g *Grader) { g.temperature = t }
}

// WithMaxTokens overrides [DefaultMaxTokens].
func WithMaxTokens(n int) Option {
	return func(g *Grader) { g.maxTokens = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Grader) { g.metrics = m }
}

// Grader implements [evaluation.Grader] on top of an [llm.Provider].
type Grader struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

var _ evaluation.Grader = (*Grader)(nil)

// New returns a Grader using p.
func New(p llm.Provider, opts ...Option) *Grader {
	g := &Grader{llm: p, temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Evaluate grades req. On failure the returned feedback still carries a
// "Score: 0" line describing the error, alongside the error itself.
func (g *Grader) Evaluate(ctx context.Context, req evaluation.Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "grader.Evaluate")
	defer span.End()

	for i, p := range req.Pairs() {
		if strings.TrimSpace(p[0]) == "" {
			err := fmt.Errorf("%w: question%d is empty", ErrIncomplete, i+1)
			return FailureFeedback(err), err
		}
	}

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: Prompt(req)}},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	g.metrics.GradingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Error("grader: completion failed", "err", err)
		err = fmt.Errorf("grader: complete: %w", err)
		return FailureFeedback(err), err
	}

	feedback := strings.TrimSpace(resp.Content)
	if feedback == "" {
		err := errors.New("grader: empty completion")
		return FailureFeedback(err), err
	}
	score := evaluation.ParseScore(feedback)
	span.SetAttributes(
		attribute.Int("grader.score", score),
		attribute.Int("llm.tokens.total", resp.Usage.TotalTokens),
		attribute.Bool("llm.truncated", resp.Truncated),
	)
	g.metrics.RecordTokens(ctx, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	g.metrics.GradingScores.Record(ctx, int64(score))
	log := observe.Logger(ctx)
	if resp.Truncated {
		log.Warn("grader: feedback cut at token limit", "max_tokens", g.maxTokens, "model", resp.Model)
	}
	log.Debug("grader: graded submission", "score", score, "tokens", resp.Usage.TotalTokens, "model", resp.Model)
	return feedback, nil
}

// Prompt renders the grading prompt for req.
func Prompt(req evaluation.Request) string {
	var b strings.Builder
	b.WriteString("You are an educational AI assistant evaluating a student's answers.\n")
	b.WriteString("Evaluate these responses:\n\n")
	for i, p := range req.Pairs() {
		fmt.Fprintf(&b, "Question %d: %s\nAnswer %d: %s\n\n", i+1, p[0], i+1, p[1])
	}
	b.WriteString(rubric)
	return b.String()
}

// FailureFeedback renders err as zero-score feedback.
func FailureFeedback(err error) string {
	return "Score: 0\nError: " + err.Error()
}
