package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/resilience"
	"github.com/MrWong99/vivavoce/pkg/provider/stt"
)

// Apologies spoken before a recognition attempt is restarted.
const (
	ApologyNoSpeech     = "I didn't catch that. Please try again."
	ApologyError        = "Sorry, I couldn't hear you clearly. Please speak louder or try again."
	ApologyStartFailure = "Error starting. Retrying..."
)

var (
	// ErrBusy is returned by [Turn.Ask] while another attempt is in flight.
	ErrBusy = errors.New("speech: recognition already in progress")

	// ErrNoSpeech means the recogniser ended the attempt without a transcript.
	ErrNoSpeech = errors.New("speech: no speech detected")

	// errBlank marks a final transcript that is empty once trimmed.
	errBlank = errors.New("speech: blank transcript")
)

// startError marks a recogniser that refused to start.
type startError struct{ err error }

func (e *startError) Error() string { return "speech: start recognition: " + e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// Attempt results recorded in metrics.
const (
	resultAccepted     = "accepted"
	resultBlank        = "blank"
	resultNoSpeech     = "no_speech"
	resultError        = "error"
	resultStartFailure = "start_failure"
)

// Speaker plays an utterance and waits for it to finish. [*Queue] implements it.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// TurnConfig holds the timing of a [Turn].
type TurnConfig struct {
	// Language is passed to the recogniser, e.g. "en-US".
	Language string

	// AcceptDelay is waited after a transcript is accepted.
	AcceptDelay time.Duration

	// NoSpeechDelay is waited before re-listening after silence.
	NoSpeechDelay time.Duration

	// ErrorDelay is waited before re-listening after a recogniser error.
	ErrorDelay time.Duration

	// StartFailureDelay is waited before re-listening when the recogniser
	// refused to start.
	StartFailureDelay time.Duration

	// MaxAttempts bounds recognition attempts per Ask. Zero is unbounded.
	MaxAttempts int

	// ReturnBlank makes Ask return "" for a final transcript that is blank
	// instead of apologising and listening again, leaving the re-ask to the
	// caller.
	ReturnBlank bool
}

// DefaultTurnConfig returns the standard timings.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		Language:          "en-US",
		AcceptDelay:       500 * time.Millisecond,
		NoSpeechDelay:     time.Second,
		ErrorDelay:        2 * time.Second,
		StartFailureDelay: 2 * time.Second,
	}
}

// TurnOption is a functional option for [NewTurn].
type TurnOption func(*Turn)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) TurnOption {
	return func(t *Turn) { t.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) TurnOption {
	return func(t *Turn) { t.log = l }
}

// WithPartialHandler registers a callback for interim transcripts.
func WithPartialHandler(fn func(text string)) TurnOption {
	return func(t *Turn) { t.onPartial = fn }
}

// Turn runs prompt/answer exchanges. Only one exchange may be in flight at a
// time; concurrent calls to [Turn.Ask] fail with [ErrBusy].
type Turn struct {
	stt     stt.Provider
	speaker Speaker
	cfg     TurnConfig

	metrics   *observe.Metrics
	log       *slog.Logger
	onPartial func(string)

	listening atomic.Bool
}

// NewTurn creates a Turn that speaks through speaker and listens through rec.
func NewTurn(rec stt.Provider, speaker Speaker, cfg TurnConfig, opts ...TurnOption) *Turn {
	t := &Turn{stt: rec, speaker: speaker, cfg: cfg}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

// Listening reports whether an exchange is in flight.
func (t *Turn) Listening() bool {
	return t.listening.Load()
}

// Ask speaks prompt, then listens until a non-empty transcript arrives and
// returns it trimmed. Silence, recogniser errors and start failures are
// apologised for and retried after their configured delay; so are blank
// transcripts unless ReturnBlank is set, in which case Ask returns "". Ask
// returns early only when ctx is done or MaxAttempts is exhausted. phase
// labels metrics and logs.
func (t *Turn) Ask(ctx context.Context, phase, prompt string) (string, error) {
	if !t.listening.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer t.listening.Store(false)

	if err := t.speaker.Say(ctx, prompt); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.log.Warn("speech: prompt playback failed", "phase", phase, "err", err)
	}

	policy := resilience.RetryPolicy{
		MaxAttempts: t.cfg.MaxAttempts,
		Delay:       t.retryDelay,
		OnRetry: func(ctx context.Context, attempt int, err error) {
			t.log.Debug("speech: retrying recognition", "phase", phase, "attempt", attempt, "err", err)
			_ = t.speaker.Say(ctx, apologyFor(err))
		},
	}
	text, err := resilience.Retry(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		text, err := t.listen(ctx)
		if ctx.Err() == nil {
			t.metrics.RecordTurnAttempt(ctx, phase, resultFor(err))
		}
		if errors.Is(err, errBlank) && t.cfg.ReturnBlank {
			return "", nil
		}
		return text, err
	})
	if err != nil {
		return "", fmt.Errorf("speech: ask %s: %w", phase, err)
	}
	if text == "" {
		return "", nil
	}

	if err := resilience.Wait(ctx, t.cfg.AcceptDelay); err != nil {
		return "", err
	}
	return text, nil
}

// listen runs a single recognition attempt.
func (t *Turn) listen(ctx context.Context) (string, error) {
	h, err := t.stt.StartStream(ctx, stt.StreamConfig{Language: t.cfg.Language, Interim: true})
	if err != nil {
		return "", &startError{err: err}
	}
	defer h.Close()

	partials := h.Partials()
	finals := h.Finals()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case p, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if t.onPartial != nil {
				t.onPartial(p.Text)
			}
		case f, ok := <-finals:
			if !ok {
				if err := h.Err(); err != nil {
					return "", fmt.Errorf("speech: recognition: %w", err)
				}
				return "", ErrNoSpeech
			}
			text := strings.TrimSpace(f.Text)
			if text == "" {
				return "", errBlank
			}
			return text, nil
		}
	}
}

func (t *Turn) retryDelay(err error) time.Duration {
	var se *startError
	switch {
	case errors.Is(err, ErrNoSpeech), errors.Is(err, errBlank):
		return t.cfg.NoSpeechDelay
	case errors.As(err, &se):
		return t.cfg.StartFailureDelay
	default:
		return t.cfg.ErrorDelay
	}
}

func apologyFor(err error) string {
	var se *startError
	switch {
	case errors.Is(err, ErrNoSpeech), errors.Is(err, errBlank):
		return ApologyNoSpeech
	case errors.As(err, &se):
		return ApologyStartFailure
	default:
		return ApologyError
	}
}

func resultFor(err error) string {
	var se *startError
	switch {
	case err == nil:
		return resultAccepted
	case errors.Is(err, errBlank):
		return resultBlank
	case errors.Is(err, ErrNoSpeech):
		return resultNoSpeech
	case errors.As(err, &se):
		return resultStartFailure
	default:
		return resultError
	}
}
