package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/vivavoce/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] by failing over across several
// grading backends. Each backend has its own circuit breaker. Requests that
// no backend could complete, such as an empty one, are not retried elsewhere.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. A nil cfg.Final is replaced by one that stops on
// [llm.ErrEmptyRequest].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Final == nil {
		cfg.Final = func(err error) bool { return errors.Is(err, llm.ErrEmptyRequest) }
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those added before it.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first backend that answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Status reports each backend's breaker state.
func (f *LLMFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Check fails while every backend's breaker is open.
func (f *LLMFallback) Check(ctx context.Context) error {
	return f.group.Check(ctx)
}
