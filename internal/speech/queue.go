// Package speech sequences spoken output and spoken answers.
//
// [Queue] serialises utterances so that prompts, apologies and violation
// announcements raised from different goroutines never talk over each other.
// [Turn] implements one prompt/answer exchange on top of a [Queue] and a
// recognition backend, retrying until a non-empty transcript arrives.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/vivavoce/pkg/provider/tts"
)

// ErrQueueClosed is returned by [Queue.Say] after [Queue.Close].
var ErrQueueClosed = errors.New("speech: queue closed")

type utterance struct {
	ctx  context.Context
	text string
	done chan error // nil for announcements
}

// Queue plays utterances one at a time, in the order they were submitted.
// Each utterance is spoken with the context it was submitted with; an
// utterance whose context is already done when its turn comes is skipped.
type Queue struct {
	tts tts.Provider

	mu      sync.Mutex
	pending []utterance
	closed  bool
	wake    chan struct{}
}

// NewQueue returns a queue speaking through p. [Queue.Run] must be running
// for utterances to be played.
func NewQueue(p tts.Provider) *Queue {
	return &Queue{tts: p, wake: make(chan struct{}, 1)}
}

// Say queues text and blocks until it has been spoken, ctx is done or the
// queue is closed.
func (q *Queue) Say(ctx context.Context, text string) error {
	done := make(chan error, 1)
	if !q.push(utterance{ctx: ctx, text: text, done: done}) {
		return ErrQueueClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Announce queues text without waiting for playback. It reports whether the
// utterance was accepted.
func (q *Queue) Announce(ctx context.Context, text string) bool {
	return q.push(utterance{ctx: ctx, text: text})
}

func (q *Queue) push(u utterance) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, u)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting new utterances. Run returns once everything already
// queued has been played. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run plays queued utterances until ctx is done or the queue is closed and
// drained. Synthesis failures are logged and reported to the waiting caller;
// they do not stop the queue.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return nil
			}
			select {
			case <-ctx.Done():
				q.abandon(ctx.Err())
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}
		u := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := u.ctx.Err()
		if err == nil {
			err = q.tts.Speak(u.ctx, u.text)
			if err != nil && u.ctx.Err() == nil {
				slog.Warn("speech: synthesis failed", "text", u.text, "err", err)
			}
		}
		if u.done != nil {
			u.done <- err
		}
	}
}

// abandon fails every utterance still waiting.
func (q *Queue) abandon(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()
	for _, u := range pending {
		if u.done != nil {
			u.done <- err
		}
	}
}
