package evaluation

import (
	"context"
	"fmt"
)

// Grader scores a submission. It returns the feedback text.
type Grader interface {
	Evaluate(ctx context.Context, req Request) (string, error)
}

// Saver persists a result.
type Saver interface {
	Save(ctx context.Context, res Result) error
}

// Local serves evaluation and persistence in-process, without an HTTP hop.
type Local struct {
	Grader Grader
	Store  Saver
}

// Evaluate grades req with the configured Grader.
func (l *Local) Evaluate(ctx context.Context, req Request) (string, error) {
	fb, err := l.Grader.Evaluate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("evaluation: grade: %w", err)
	}
	return fb, nil
}

// StoreResult saves res with the configured Saver.
func (l *Local) StoreResult(ctx context.Context, res Result) error {
	if err := l.Store.Save(ctx, res); err != nil {
		return fmt.Errorf("evaluation: store result: %w", err)
	}
	return nil
}
