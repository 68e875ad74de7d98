package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned by [RetryPolicy.Do] when MaxAttempts is
// reached without success.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that [RetryPolicy.Do] returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy describes how an operation is retried.
//
// The zero value retries forever without delay.
type RetryPolicy struct {
	// MaxAttempts bounds the number of calls. Zero means unbounded.
	MaxAttempts int

	// Backoff is the delay before the next attempt when Delay is nil.
	Backoff time.Duration

	// Delay, if set, chooses the delay from the failure of the previous
	// attempt.
	Delay func(err error) time.Duration

	// OnRetry, if set, runs synchronously after a failed attempt and before
	// the delay. It is not called after the final attempt.
	OnRetry func(ctx context.Context, attempt int, err error)
}

// Do calls fn until it succeeds, returns a [Permanent] error, ctx is done or
// MaxAttempts is reached. attempt starts at 1.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt, err)
		}
		if err := Wait(ctx, p.delay(err)); err != nil {
			return err
		}
	}
}

func (p RetryPolicy) delay(err error) time.Duration {
	if p.Delay != nil {
		return p.Delay(err)
	}
	return p.Backoff
}

// Retry is [RetryPolicy.Do] for operations that produce a value.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Wait blocks for d or until ctx is done, whichever comes first. It returns
// ctx.Err() in the latter case.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
