package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/vivavoce/internal/assessment"
	"github.com/MrWong99/vivavoce/internal/config"
	"github.com/MrWong99/vivavoce/internal/host"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/sessionstore"
)

// ErrShuttingDown is returned by [SessionManager.Serve] once Shutdown has
// begun.
var ErrShuttingDown = errors.New("app: shutting down")

// publishTimeout bounds a single snapshot write.
const publishTimeout = 5 * time.Second

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the host connected.
	StartedAt time.Time

	// Running reports whether the host has started the assessment.
	Running bool
}

// liveSession is one connected host and the assessment it drives.
type liveSession struct {
	info    SessionInfo
	orch    *assessment.Orchestrator
	conn    *host.Conn
	cancel  context.CancelFunc
	runOnce sync.Once
	ran     chan struct{}
}

// SessionManager runs one assessment per connected host. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	live     map[string]*liveSession
	session  assessment.Config
	closed   bool
	sessions sync.WaitGroup

	registry  *config.Registry
	providers config.ProvidersConfig
	evaluator assessment.Evaluator
	store     sessionstore.Store
	metrics   *observe.Metrics
	newID     func() string
	hostOpts  []host.Option
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Registry resolves the per-connection capability providers.
	Registry *config.Registry

	// Providers names the capability providers to resolve.
	Providers config.ProvidersConfig

	// Session holds the tunables for new sessions.
	Session assessment.Config

	// Evaluator grades submissions and stores results.
	Evaluator assessment.Evaluator

	// Store receives a snapshot after every session state change.
	Store sessionstore.Store

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// NewID generates session IDs. Defaults to random UUIDs.
	NewID func() string

	// HostOptions are passed to every [host.NewConn].
	HostOptions []host.Option
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		live:      make(map[string]*liveSession),
		session:   cfg.Session,
		registry:  cfg.Registry,
		providers: cfg.Providers,
		evaluator: cfg.Evaluator,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		newID:     cfg.NewID,
		hostOpts:  cfg.HostOptions,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.newID == nil {
		sm.newID = uuid.NewString
	}
	if sm.store == nil {
		sm.store = sessionstore.NewMemory()
	}
	return sm
}

// Serve runs an assessment over ws and blocks until the host disconnects
// and the session has ended. The assessment starts when the host sends a
// start event.
func (sm *SessionManager) Serve(ctx context.Context, ws *websocket.Conn) error {
	id := sm.newID()
	ctx = observe.WithSession(ctx, id)
	log := observe.Logger(ctx)

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return ErrShuttingDown
	}
	sessCfg := sm.session
	sm.sessions.Add(1)
	sm.mu.Unlock()
	defer sm.sessions.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := append([]host.Option{host.WithLogger(log)}, sm.hostOpts...)
	conn := host.NewConn(ctx, ws, opts...)
	defer conn.Close()

	ports, err := sm.ports(conn)
	if err != nil {
		log.Error("app: resolve providers", "err", err)
		_ = conn.Send(host.Message{Type: host.TypeError, Error: "session setup failed"})
		return fmt.Errorf("app: serve: %w", err)
	}
	orch, err := assessment.New(id, ports, sessCfg,
		assessment.WithMetrics(sm.metrics),
		assessment.WithLogger(log),
		assessment.WithOnChange(sm.publish),
	)
	if err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}

	ls := &liveSession{
		info:   SessionInfo{SessionID: id, StartedAt: time.Now().UTC()},
		orch:   orch,
		conn:   conn,
		cancel: cancel,
		ran:    make(chan struct{}),
	}
	sm.mu.Lock()
	sm.live[id] = ls
	sm.mu.Unlock()
	defer func() {
		sm.mu.Lock()
		delete(sm.live, id)
		sm.mu.Unlock()
	}()

	sm.publish(orch.Snapshot())
	if err := conn.Send(host.Message{Type: host.TypeSession, Text: id}); err != nil {
		log.Warn("app: announce session", "err", err)
	}
	log.Info("app: host connected")

	sm.route(ctx, ls, log)

	// Whatever ended the connection, the assessment must not outlive it.
	cancel()
	if sm.isRunning(ls) {
		<-ls.ran
	} else {
		ls.orch.Quit()
	}
	log.Info("app: host disconnected", "phase", string(orch.Session().Phase()))
	return nil
}

// route dispatches host events until the connection or the session ends.
func (sm *SessionManager) route(ctx context.Context, ls *liveSession, log *slog.Logger) {
	events := ls.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ls.orch.Done():
			// Keep the connection open until the closing announcement has
			// been spoken.
			if sm.isRunning(ls) {
				drain(ctx, ls.ran, events)
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case host.EventStart:
				sm.start(ctx, ls, log)
			case host.EventQuit:
				ls.orch.Quit()
			case host.EventVisibility:
				ls.orch.Visibility(ev.Hidden, ev.Reload)
			}
		}
	}
}

// drain discards host events until ran is closed or ctx ends.
func drain(ctx context.Context, ran <-chan struct{}, events <-chan host.Event) {
	for {
		select {
		case <-ran:
			return
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
	}
}

// start launches the assessment once. Later start events are ignored.
func (sm *SessionManager) start(ctx context.Context, ls *liveSession, log *slog.Logger) {
	ls.runOnce.Do(func() {
		sm.mu.Lock()
		ls.info.Running = true
		sm.mu.Unlock()
		go func() {
			defer close(ls.ran)
			out, err := ls.orch.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("app: session ended with error", "err", err)
			}
			log.Info("app: session finished", "outcome", string(out.Kind), "score", out.Score)
		}()
	})
}

func (sm *SessionManager) isRunning(ls *liveSession) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return ls.info.Running
}

// ports resolves the configured capability providers for conn.
func (sm *SessionManager) ports(conn *host.Conn) (assessment.Ports, error) {
	p := assessment.Ports{Evaluator: sm.evaluator}
	var err error
	if p.STT, err = sm.registry.CreateSTT(sm.providers.STT, conn); err != nil {
		return p, fmt.Errorf("create stt provider %q: %w", sm.providers.STT.Name, err)
	}
	if p.TTS, err = sm.registry.CreateTTS(sm.providers.TTS, conn); err != nil {
		return p, fmt.Errorf("create tts provider %q: %w", sm.providers.TTS.Name, err)
	}
	if p.Detector, err = sm.registry.CreateDetector(sm.providers.Detector, conn); err != nil {
		return p, fmt.Errorf("create detector provider %q: %w", sm.providers.Detector.Name, err)
	}
	if p.Camera, err = sm.registry.CreateCapture(sm.providers.Capture, conn); err != nil {
		return p, fmt.Errorf("create capture provider %q: %w", sm.providers.Capture.Name, err)
	}
	return p, nil
}

// publish writes snap to the snapshot store.
func (sm *SessionManager) publish(snap assessment.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := sm.store.Put(ctx, snap); err != nil {
		slog.Warn("app: publish snapshot", "session_id", snap.ID, "err", err)
	}
}

// Quit ends the live session id as if the candidate had quit.
// Returns [sessionstore.ErrNotFound] if no such session is connected.
func (sm *SessionManager) Quit(id string) error {
	sm.mu.Lock()
	ls, ok := sm.live[id]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: quit %q: %w", id, sessionstore.ErrNotFound)
	}
	ls.orch.Quit()
	return nil
}

// Live returns metadata for all connected sessions, oldest first.
func (sm *SessionManager) Live() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.live))
	for _, ls := range sm.live {
		out = append(out, ls.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Reconfigure replaces the tunables used by sessions that connect from now
// on. Running sessions keep theirs.
func (sm *SessionManager) Reconfigure(cfg assessment.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.session = cfg
}

// Shutdown stops accepting hosts, disconnects every live session and waits
// for them to finish or ctx to expire.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	for _, ls := range sm.live {
		ls.cancel()
	}
	n := len(sm.live)
	sm.mu.Unlock()

	slog.Info("app: stopping sessions", "live", n)
	done := make(chan struct{})
	go func() {
		sm.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: shutdown sessions: %w", ctx.Err())
	}
}
