// Package assessment runs the spoken assessment dialogue.
//
// An [Orchestrator] walks a [Session] through its phases, asking each
// question through a [speech.Turn] while a [proctor.Monitor] watches the
// candidate on a separate goroutine. Violations flow back through
// [Orchestrator.Report] into the session's ledger; the third one ends the
// session. Whatever ends the session (quit, violations, a scored
// evaluation) goes through one terminal latch that stops the monitor,
// aborts any recognition in flight and releases the camera exactly once.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/keywords"
	"github.com/MrWong99/vivavoce/internal/ledger"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/proctor"
	"github.com/MrWong99/vivavoce/internal/resilience"
	"github.com/MrWong99/vivavoce/internal/speech"
	"github.com/MrWong99/vivavoce/internal/subject"
	"github.com/MrWong99/vivavoce/pkg/capture"
	"github.com/MrWong99/vivavoce/pkg/provider/detect"
	"github.com/MrWong99/vivavoce/pkg/provider/stt"
	"github.com/MrWong99/vivavoce/pkg/provider/tts"
)

// ErrAlreadyRunning is returned by a second call to [Orchestrator.Run].
var ErrAlreadyRunning = errors.New("assessment: already running")

// errTerminated stops the dialogue once the session has completed.
var errTerminated = errors.New("assessment: session terminated")

// Evaluator grades the submission and persists the result.
// [*evaluation.Client] and [*evaluation.Local] implement it.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.Request) (string, error)
	StoreResult(ctx context.Context, res evaluation.Result) error
}

// Ports are the capabilities a session runs on. Camera and Detector are
// optional; without them the session is only watched for tab switches.
type Ports struct {
	STT       stt.Provider
	TTS       tts.Provider
	Detector  detect.Provider
	Camera    capture.Device
	Evaluator Evaluator
}

// Config holds the tunables of one session.
type Config struct {
	Turn              speech.TurnConfig
	Proctor           proctor.Config
	Subjects          []string
	PhoneticSubjects  bool
	PhoneticThreshold float64
	EvaluationBackoff time.Duration
	ViolationLimit    int
	ViolationDebounce time.Duration
	RequireCamera     bool
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Turn:              speech.DefaultTurnConfig(),
		Proctor:           proctor.DefaultConfig(),
		Subjects:          subject.DefaultSubjects,
		EvaluationBackoff: 3 * time.Second,
		ViolationLimit:    ledger.DefaultLimit,
	}
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default] with the session ID.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithOnChange registers a callback invoked with a fresh snapshot after
// every state change. It may be called from several goroutines.
func WithOnChange(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

// Orchestrator drives one assessment session.
type Orchestrator struct {
	ports    Ports
	cfg      Config
	session  *Session
	ledger   *ledger.Ledger
	queue    *speech.Queue
	turn     *speech.Turn
	monitor  *proctor.Monitor
	subjects *subject.Extractor

	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
	onChange func(Snapshot)

	started  atomic.Bool
	termOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	terminated bool
	runCtx     context.Context
	cancelLive context.CancelFunc
	handle     capture.Handle
}

// New creates an orchestrator for session id.
func New(id string, ports Ports, cfg Config, opts ...Option) (*Orchestrator, error) {
	if ports.STT == nil || ports.TTS == nil || ports.Evaluator == nil {
		return nil, errors.New("assessment: STT, TTS and Evaluator ports are required")
	}
	o := &Orchestrator{
		ports: ports,
		cfg:   cfg,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.log == nil {
		o.log = slog.Default().With("session_id", id)
	}

	o.ledger = ledger.New(
		ledger.WithLimit(cfg.ViolationLimit),
		ledger.WithDebounce(cfg.ViolationDebounce),
		ledger.WithClock(o.now),
	)
	o.session = newSession(id, o.ledger, o.now)
	o.queue = speech.NewQueue(ports.TTS)
	// Blank answers come back to the dialogue, which re-asks per phase.
	turnCfg := cfg.Turn
	turnCfg.ReturnBlank = true
	o.turn = speech.NewTurn(ports.STT, o.queue, turnCfg,
		speech.WithMetrics(o.metrics),
		speech.WithLogger(o.log),
		speech.WithPartialHandler(func(text string) {
			o.log.Debug("assessment: interim transcript", "text", text)
		}),
	)
	o.monitor = proctor.New(ports.Detector, o, cfg.Proctor,
		proctor.WithClock(o.now),
		proctor.WithMetrics(o.metrics),
		proctor.WithLogger(o.log),
	)
	o.subjects = subject.New(cfg.Subjects,
		subject.WithPhonetic(cfg.PhoneticSubjects),
		subject.WithPhoneticThreshold(cfg.PhoneticThreshold),
	)
	return o, nil
}

var _ proctor.Reporter = (*Orchestrator)(nil)

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.session.ID() }

// Session returns the session state.
func (o *Orchestrator) Session() *Session { return o.session }

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot() Snapshot { return o.session.Snapshot() }

// Done is closed once the session has reached [PhaseComplete].
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run conducts the assessment and blocks until it is complete and every
// background activity has stopped. If ctx ends first the session is closed
// as a quit and ctx's error is returned along with the outcome.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	if !o.started.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyRunning
	}

	liveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.terminated {
		o.mu.Unlock()
		out, _ := o.session.Outcome()
		return out, nil
	}
	o.runCtx = ctx
	o.cancelLive = cancel
	o.mu.Unlock()

	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	o.log.Info("assessment: session started")

	var g errgroup.Group
	g.Go(func() error { return o.queue.Run(ctx) })

	err := o.conduct(liveCtx, &g)
	if err != nil && !errors.Is(err, errTerminated) && !o.isTerminated() {
		o.log.Warn("assessment: session aborted", "err", err)
		o.terminate(Outcome{Kind: OutcomeQuit, Reason: ReasonDisconnected}, "")
	}

	o.queue.Close()
	waitErr := g.Wait()

	out, _ := o.session.Outcome()
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if waitErr != nil {
		return out, fmt.Errorf("assessment: %w", waitErr)
	}
	return out, nil
}

// conduct runs the dialogue from Name to the scored outcome.
func (o *Orchestrator) conduct(ctx context.Context, g *errgroup.Group) error {
	if err := o.enter(PhaseName); err != nil {
		return err
	}
	o.startMonitor(ctx, g)
	if o.isTerminated() {
		return errTerminated
	}

	if err := o.askName(ctx); err != nil {
		return err
	}
	if err := o.enter(PhaseSubject); err != nil {
		return err
	}
	if err := o.askSubject(ctx); err != nil {
		return err
	}

	subj := o.session.Subject()

	if err := o.enter(PhaseTopic); err != nil {
		return err
	}
	topic, topicKWs, err := o.askQuestion(ctx, PhaseTopic, topicPrompt(subj), RepromptExplanation)
	if err != nil {
		return err
	}

	if err := o.enter(PhaseApplications); err != nil {
		return err
	}
	_, appKWs, err := o.askQuestion(ctx, PhaseApplications, applicationsPrompt(subj, topic, topicKWs), RepromptExamples)
	if err != nil {
		return err
	}

	if err := o.enter(PhaseQuestion3); err != nil {
		return err
	}
	_, q3KWs, err := o.askQuestion(ctx, PhaseQuestion3, question3Prompt(subj, topic, appKWs), RepromptExplanation)
	if err != nil {
		return err
	}

	if err := o.enter(PhaseQuestion4); err != nil {
		return err
	}
	if _, _, err := o.askQuestion(ctx, PhaseQuestion4, question4Prompt(subj, topic, q3KWs), RepromptExamples); err != nil {
		return err
	}

	return o.evaluate(ctx, g)
}

// enter advances the session to p.
func (o *Orchestrator) enter(p Phase) error {
	if !o.session.advance(p) {
		return errTerminated
	}
	o.log.Debug("assessment: phase entered", "phase", string(p))
	o.publish()
	return nil
}

// ask runs one exchange, mapping a cancellation caused by termination to
// errTerminated.
func (o *Orchestrator) ask(ctx context.Context, p Phase, prompt string) (string, error) {
	text, err := o.turn.Ask(ctx, string(p), prompt)
	if err != nil {
		if o.isTerminated() {
			return "", errTerminated
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// askName asks for the name, re-asking once if the answer is blank. A
// second blank answer is kept.
func (o *Orchestrator) askName(ctx context.Context) error {
	name, err := o.ask(ctx, PhaseName, PromptWelcome)
	if err != nil {
		return err
	}
	if name == "" {
		if name, err = o.ask(ctx, PhaseName, RepromptName); err != nil {
			return err
		}
	}
	o.session.setName(name)
	o.publish()
	return nil
}

// askSubject asks for the subject, re-asking once if nothing usable was
// extracted.
func (o *Orchestrator) askSubject(ctx context.Context) error {
	answer, err := o.ask(ctx, PhaseSubject, subjectPrompt(o.session.CandidateName()))
	if err != nil {
		return err
	}
	subj := o.subjects.Extract(answer)
	if subj == "" {
		if answer, err = o.ask(ctx, PhaseSubject, RepromptSubject); err != nil {
			return err
		}
		subj = o.subjects.Extract(answer)
	}
	o.session.setSubject(subj)
	o.publish()
	return nil
}

// askQuestion opens the turn for p and asks until the answer is non-empty,
// re-prompting with reprompt after each blank answer.
func (o *Orchestrator) askQuestion(ctx context.Context, p Phase, prompt, reprompt string) (string, []string, error) {
	o.session.openTurn(prompt)
	o.publish()

	var answer string
	for next := prompt; answer == ""; next = reprompt {
		var err error
		if answer, err = o.ask(ctx, p, next); err != nil {
			return "", nil, err
		}
	}
	kws := keywords.Extract(answer)
	if !o.session.answerTurn(answer, kws) {
		return "", nil, errTerminated
	}
	o.publish()
	return answer, kws, nil
}

// evaluate submits the answers until the collaborator succeeds, completes
// the session and files the result in the background.
func (o *Orchestrator) evaluate(ctx context.Context, g *errgroup.Group) error {
	req := o.session.evaluationRequest()
	policy := resilience.RetryPolicy{
		Backoff: o.cfg.EvaluationBackoff,
		OnRetry: func(ctx context.Context, attempt int, err error) {
			o.log.Warn("assessment: evaluation failed, retrying", "attempt", attempt, "err", err)
			o.metrics.EvaluationFailures.Add(ctx, 1)
			_ = o.queue.Say(ctx, MessageEvaluationRetry)
		},
	}
	feedback, err := resilience.Retry(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		start := time.Now()
		defer func() {
			o.metrics.EvaluationDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
		}()
		return o.ports.Evaluator.Evaluate(ctx, req)
	})
	if err != nil {
		if o.isTerminated() {
			return errTerminated
		}
		return err
	}

	score := evaluation.ParseScore(feedback)
	if !o.terminate(Outcome{Kind: OutcomeScored, Feedback: feedback, Score: score}, MessageCompleted) {
		return errTerminated
	}

	result := evaluation.Result{
		StudentName: o.session.CandidateName(),
		Subject:     o.session.Subject(),
		Topic:       req.Answer1,
		Score:       score,
		Cheated:     o.ledger.Len() > 0,
		EntryTime:   o.now().UTC(),
	}
	storeCtx := context.WithoutCancel(ctx)
	g.Go(func() error {
		if err := o.ports.Evaluator.StoreResult(storeCtx, result); err != nil {
			o.log.Error("assessment: failed to store result", "err", err)
		}
		return nil
	})
	return nil
}

// startMonitor acquires the camera and starts the proctoring loop.
func (o *Orchestrator) startMonitor(ctx context.Context, g *errgroup.Group) {
	var h capture.Handle
	if o.ports.Camera != nil && o.ports.Detector != nil {
		acquired, err := o.ports.Camera.Acquire(ctx)
		if err != nil {
			o.log.Warn("assessment: camera unavailable", "err", err)
			o.announce(MessageCameraDenied)
			if o.cfg.RequireCamera {
				o.terminate(Outcome{Kind: OutcomeFailed, Reason: ReasonCameraUnavailable}, "")
				return
			}
		} else if !o.adopt(acquired) {
			return
		} else {
			h = acquired
		}
	}
	g.Go(func() error { return o.monitor.Run(ctx, h) })
}

// adopt takes ownership of h, releasing it at once if the session already
// ended.
func (o *Orchestrator) adopt(h capture.Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminated {
		if err := h.Release(); err != nil {
			o.log.Warn("assessment: release camera", "err", err)
		}
		return false
	}
	o.handle = h
	return true
}

// Report records a violation raised by the monitor. It announces the
// violation and ends the session when the ledger limit is reached. Reports
// after completion are ignored.
func (o *Orchestrator) Report(kind ledger.Kind, message string) {
	res, err := o.ledger.Append(kind, message)
	if err != nil || res.Suppressed {
		return
	}
	o.metrics.RecordViolation(context.Background(), string(kind))
	o.log.Warn("assessment: violation recorded", "kind", string(kind), "count", res.Count, "limit", o.ledger.Limit())
	o.announce(message)
	o.publish()

	if res.Tripped {
		o.terminate(Outcome{Kind: OutcomeFailed, Reason: ReasonRepeatedViolations}, MessageTerminated)
	}
}

// Quit ends the session at the candidate's request.
func (o *Orchestrator) Quit() {
	o.terminate(Outcome{Kind: OutcomeQuit, Reason: ReasonCandidateQuit}, MessageQuit)
}

// Visibility forwards a host visibility change to the monitor. Changes
// outside the monitored phases are ignored.
func (o *Orchestrator) Visibility(hidden, reload bool) {
	if !o.session.Phase().Monitored() || o.isTerminated() {
		return
	}
	o.monitor.Visibility(hidden, reload)
}

// terminate completes the session. Only the first call has any effect; it
// reports whether this call was that one.
func (o *Orchestrator) terminate(out Outcome, announcement string) bool {
	won := false
	o.termOnce.Do(func() {
		won = true
		o.session.complete(out)
		o.ledger.Seal()

		o.mu.Lock()
		o.terminated = true
		cancel, h, runCtx := o.cancelLive, o.handle, o.runCtx
		o.handle = nil
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if h != nil {
			if err := h.Release(); err != nil {
				o.log.Warn("assessment: release camera", "err", err)
			}
		}
		if announcement != "" && runCtx != nil {
			o.queue.Announce(runCtx, announcement)
		}

		o.metrics.RecordSessionCompleted(context.Background(), string(out.Kind))
		o.log.Info("assessment: session complete", "outcome", string(out.Kind), "reason", out.Reason, "score", out.Score)
		close(o.done)
		o.publish()
	})
	return won
}

// announce queues text without waiting for playback.
func (o *Orchestrator) announce(text string) {
	o.mu.Lock()
	runCtx := o.runCtx
	o.mu.Unlock()
	if runCtx != nil {
		o.queue.Announce(runCtx, text)
	}
}

func (o *Orchestrator) isTerminated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminated
}

func (o *Orchestrator) publish() {
	if o.onChange != nil {
		o.onChange(o.session.Snapshot())
	}
}
