// Package app wires all vivavoce subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithResultStore,
// WithSessionStore, WithEvaluator, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/MrWong99/vivavoce/internal/api"
	"github.com/MrWong99/vivavoce/internal/assessment"
	"github.com/MrWong99/vivavoce/internal/config"
	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/grader"
	"github.com/MrWong99/vivavoce/internal/health"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/proctor"
	"github.com/MrWong99/vivavoce/internal/resilience"
	"github.com/MrWong99/vivavoce/internal/results"
	"github.com/MrWong99/vivavoce/internal/results/postgres"
	"github.com/MrWong99/vivavoce/internal/sessionstore"
	"github.com/MrWong99/vivavoce/internal/speech"
	"github.com/MrWong99/vivavoce/pkg/provider/llm"
)

// Providers holds the process-wide providers built by main.go via the
// config registry. Nil means the provider is not configured.
type Providers struct {
	// LLM grades submissions, with any configured fallbacks folded in.
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	registry  *config.Registry
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	results   results.Store
	sessions  sessionstore.Store
	grader    *grader.Grader
	evaluator assessment.Evaluator
	manager   *SessionManager
	handler   http.Handler
	server    *http.Server
	checkers  []health.Checker

	// metricsHandler serves /metrics when set.
	metricsHandler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithResultStore injects a result store instead of creating one from config.
func WithResultStore(s results.Store) Option {
	return func(a *App) { a.results = s }
}

// WithSessionStore injects a snapshot store instead of creating one from config.
func WithSessionStore(s sessionstore.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithEvaluator injects the evaluator used by sessions instead of deriving
// it from evaluation.url or the grading model.
func WithEvaluator(e assessment.Evaluator) Option {
	return func(a *App) { a.evaluator = e }
}

// WithRegistry sets the provider registry used to resolve per-connection
// capabilities. Default: a registry with only the remote providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		a.registry.RegisterRemote()
	}

	// ── 1. Result store ──────────────────────────────────────────────────
	if err := a.initResults(ctx); err != nil {
		return nil, fmt.Errorf("app: init results: %w", err)
	}

	// ── 2. Snapshot store ────────────────────────────────────────────────
	if err := a.initSessions(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 3. Grading and evaluation ────────────────────────────────────────
	if err := a.initEvaluation(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init evaluation: %w", err)
	}

	// ── 4. Session manager ───────────────────────────────────────────────
	a.manager = NewSessionManager(SessionManagerConfig{
		Registry:  a.registry,
		Providers: cfg.Providers,
		Session:   SessionConfig(cfg),
		Evaluator: a.evaluator,
		Store:     a.sessions,
		Metrics:   a.metrics,
	})

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	apiCfg := api.Config{
		Results:        a.results,
		Snapshots:      a.sessions,
		Live:           a.manager,
		Health:         health.New(a.checkers...),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		OriginPatterns: cfg.Server.OriginPatterns,
	}
	if a.grader != nil {
		apiCfg.Grader = a.grader
	}
	a.handler = api.NewHandler(apiCfg)
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.handler,
	}

	slog.Info("app initialised",
		"results", fmt.Sprintf("%T", a.results),
		"sessions", fmt.Sprintf("%T", a.sessions),
		"evaluator", fmt.Sprintf("%T", a.evaluator),
		"grading", a.grader != nil,
	)
	return a, nil
}

// initResults connects the Postgres result store, or keeps results in memory
// when no DSN is configured.
func (a *App) initResults(ctx context.Context) error {
	if a.results != nil {
		return nil
	}
	if a.cfg.Results.PostgresDSN == "" {
		a.results = results.NewMemory()
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Results.PostgresDSN)
	if err != nil {
		return err
	}
	a.results = store
	a.checkers = append(a.checkers, health.FromPinger("postgres", store))
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	return nil
}

// initSessions connects the Redis snapshot store, or keeps snapshots in
// memory when no address is configured.
func (a *App) initSessions(ctx context.Context) error {
	if a.sessions != nil {
		return nil
	}
	if a.cfg.Sessions.RedisAddr == "" {
		a.sessions = sessionstore.NewMemory()
		return nil
	}
	store := sessionstore.NewRedis(a.cfg.Sessions.RedisAddr, a.cfg.Sessions.RedisPassword, a.cfg.Sessions.RedisDB,
		sessionstore.WithTTL(a.cfg.Sessions.TTL),
	)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("ping redis %s: %w", a.cfg.Sessions.RedisAddr, err)
	}
	a.sessions = store
	a.checkers = append(a.checkers, health.FromPinger("redis", store))
	a.closers = append(a.closers, store.Close)
	return nil
}

// initEvaluation builds the grader from the LLM provider and selects the
// evaluator sessions use: the remote service when evaluation.url is set,
// otherwise the in-process grader and result store.
func (a *App) initEvaluation() error {
	if a.providers.LLM != nil {
		a.grader = grader.New(a.providers.LLM, grader.WithMetrics(a.metrics))
		if c, ok := a.providers.LLM.(interface{ Check(context.Context) error }); ok {
			a.checkers = append(a.checkers, health.Checker{Name: "llm", Check: c.Check})
		}
	}
	if a.evaluator != nil {
		return nil
	}
	if a.cfg.Evaluation.URL != "" {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:          "result-store",
			MaxFailures:   3,
			HalfOpenMax:   1,
			OnStateChange: a.recordBreaker,
		})
		c, err := evaluation.NewClient(a.cfg.Evaluation.URL,
			evaluation.WithTimeout(a.cfg.Evaluation.Timeout),
			evaluation.WithStoreBreaker(breaker),
		)
		if err != nil {
			return err
		}
		a.evaluator = c
		return nil
	}
	if a.grader == nil {
		return errors.New("no evaluator: set evaluation.url or configure providers.llm")
	}
	a.evaluator = &evaluation.Local{Grader: a.grader, Store: a.results}
	return nil
}

// recordBreaker counts circuit breaker transitions.
func (a *App) recordBreaker(name string, _, to resilience.State) {
	a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
}

// SessionConfig converts the assessment and proctor sections into session
// tunables.
func SessionConfig(cfg *config.Config) assessment.Config {
	sc := assessment.DefaultConfig()
	sc.Turn = speech.TurnConfig{
		Language:          cfg.Assessment.Language,
		AcceptDelay:       cfg.Assessment.AcceptDelay,
		NoSpeechDelay:     cfg.Assessment.NoSpeechDelay,
		ErrorDelay:        cfg.Assessment.ErrorDelay,
		StartFailureDelay: cfg.Assessment.StartFailureDelay,
	}
	sc.Proctor = proctor.Config{
		PersonConfidence: cfg.Proctor.PersonConfidence,
		PhoneConfidence:  cfg.Proctor.PhoneConfidence,
		PhoneLabels:      cfg.Proctor.PhoneLabels,
		AbsenceThreshold: cfg.Proctor.AbsenceThreshold,
		TickInterval:     cfg.Proctor.TickInterval,
	}
	if len(cfg.Assessment.Subjects) > 0 {
		sc.Subjects = cfg.Assessment.Subjects
	}
	sc.PhoneticSubjects = cfg.Assessment.PhoneticSubjects
	sc.PhoneticThreshold = cfg.Assessment.PhoneticThreshold
	sc.EvaluationBackoff = cfg.Assessment.EvaluationBackoff
	sc.ViolationLimit = cfg.Assessment.ViolationLimit
	sc.ViolationDebounce = cfg.Proctor.Debounce
	sc.RequireCamera = cfg.Proctor.RequireCamera
	return sc
}

// Handler returns the HTTP handler serving every endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.manager }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled or the
// listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled or serving fails. A
// cancelled ctx is not an error; call Shutdown afterwards.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Reload applies a hot-reloaded configuration. Assessment and proctor
// changes take effect for sessions that start afterwards.
func (a *App) Reload(cfg *config.Config, d config.ConfigDiff) {
	if d.AssessmentChanged || d.ProctorChanged {
		a.manager.Reconfigure(SessionConfig(cfg))
		slog.Info("session configuration updated for new sessions")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, ends live sessions and closes the stores.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}
		// Websocket hosts are hijacked connections the HTTP server no
		// longer tracks.
		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
