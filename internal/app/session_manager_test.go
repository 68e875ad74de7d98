package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/vivavoce/internal/app"
	"github.com/MrWong99/vivavoce/internal/assessment"
	"github.com/MrWong99/vivavoce/internal/config"
	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/host"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/sessionstore"
)

// stubEvaluator grades everything with a fixed feedback.
type stubEvaluator struct {
	mu     sync.Mutex
	stored []evaluation.Result
}

func (e *stubEvaluator) Evaluate(context.Context, evaluation.Request) (string, error) {
	return "Score: 7\nFair.", nil
}

func (e *stubEvaluator) StoreResult(_ context.Context, res evaluation.Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stored = append(e.stored, res)
	return nil
}

// harness serves a SessionManager over a test websocket server.
type harness struct {
	sm     *app.SessionManager
	store  *sessionstore.Memory
	url    string
	served chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	reg := config.NewRegistry()
	reg.RegisterRemote()

	var (
		mu sync.Mutex
		n  int
	)
	h := &harness{
		store:  sessionstore.NewMemory(),
		served: make(chan error, 4),
	}
	h.sm = app.NewSessionManager(app.SessionManagerConfig{
		Registry: reg,
		Providers: config.ProvidersConfig{
			STT:      config.ProviderEntry{Name: config.ProviderRemote},
			TTS:      config.ProviderEntry{Name: config.ProviderRemote},
			Detector: config.ProviderEntry{Name: config.ProviderNone},
			Capture:  config.ProviderEntry{Name: config.ProviderNone},
		},
		Session:   assessment.DefaultConfig(),
		Evaluator: &stubEvaluator{},
		Store:     h.store,
		Metrics:   metrics,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return "s-" + string(rune('0'+n))
		},
		HostOptions: []host.Option{host.WithWriteTimeout(time.Second)},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.served <- h.sm.Serve(context.Background(), ws)
	}))
	t.Cleanup(srv.Close)
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func (h *harness) waitServed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) host.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var m host.Message
	if err := wsjson.Read(ctx, ws, &m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func writeMsg(t *testing.T, ws *websocket.Conn, m host.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, m); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionManager_AnnouncesSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ws := h.dial(t)

	m := readMsg(t, ws)
	if m.Type != host.TypeSession || m.Text != "s-1" {
		t.Fatalf("first message = %+v, want session s-1", m)
	}

	live := h.sm.Live()
	if len(live) != 1 || live[0].SessionID != "s-1" || live[0].Running {
		t.Fatalf("Live() = %+v", live)
	}
	snap, err := h.store.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("snapshot not published: %v", err)
	}
	if snap.Phase != assessment.PhaseInstructions {
		t.Errorf("phase = %q, want %q", snap.Phase, assessment.PhaseInstructions)
	}
}

func TestSessionManager_DisconnectBeforeStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ws := h.dial(t)
	readMsg(t, ws)

	_ = ws.Close(websocket.StatusNormalClosure, "bye")
	if err := h.waitServed(t); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if live := h.sm.Live(); len(live) != 0 {
		t.Errorf("Live() after disconnect = %+v", live)
	}
	snap, err := h.store.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Phase != assessment.PhaseComplete || snap.Outcome == nil || snap.Outcome.Kind != assessment.OutcomeQuit {
		t.Errorf("final snapshot = %+v", snap)
	}
}

func TestSessionManager_QuitLive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ws := h.dial(t)
	readMsg(t, ws)

	if err := h.sm.Quit("s-1"); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	if err := h.waitServed(t); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	snap, err := h.store.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Outcome == nil || snap.Outcome.Kind != assessment.OutcomeQuit {
		t.Errorf("outcome = %+v, want quit", snap.Outcome)
	}
}

func TestSessionManager_QuitUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.sm.Quit("nope"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("Quit(unknown) = %v, want ErrNotFound", err)
	}
}

// driveUntilQuit answers every speak request and sends quit, followed by
// extra further quits, once the dialogue listens. It returns what was spoken.
func driveUntilQuit(t *testing.T, ws *websocket.Conn, extra int) []string {
	t.Helper()
	var spoken []string
	quitSent := false
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		var m host.Message
		if err := wsjson.Read(ctx, ws, &m); err != nil {
			break
		}
		switch m.Type {
		case host.TypeSpeak:
			spoken = append(spoken, m.Text)
			if err := wsjson.Write(ctx, ws, host.Message{Type: host.TypeSpoke, ID: m.ID}); err != nil {
				t.Fatalf("write spoke: %v", err)
			}
		case host.TypeListen:
			if quitSent {
				continue
			}
			quitSent = true
			for range extra + 1 {
				if err := wsjson.Write(ctx, ws, host.Message{Type: host.TypeQuit}); err != nil {
					t.Fatalf("write quit: %v", err)
				}
			}
		}
	}
	if !quitSent {
		t.Fatal("dialogue never listened")
	}
	return spoken
}

func TestSessionManager_RunningSessionQuitByHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra int
	}{
		{name: "single quit", extra: 0},
		{name: "repeated quits", extra: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ws := h.dial(t)
			readMsg(t, ws)

			writeMsg(t, ws, host.Message{Type: host.TypeStart})
			waitFor(t, func() bool {
				live := h.sm.Live()
				return len(live) == 1 && live[0].Running
			})

			spoken := driveUntilQuit(t, ws, tt.extra)
			if err := h.waitServed(t); err != nil {
				t.Fatalf("Serve: %v", err)
			}
			if len(spoken) == 0 || spoken[len(spoken)-1] != assessment.MessageQuit {
				t.Errorf("spoken = %q, want final %q", spoken, assessment.MessageQuit)
			}
			snap, err := h.store.Get(context.Background(), "s-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if snap.Outcome == nil || snap.Outcome.Kind != assessment.OutcomeQuit {
				t.Errorf("outcome = %+v, want quit", snap.Outcome)
			}
		})
	}
}

func TestSessionManager_Shutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ws := h.dial(t)
	readMsg(t, ws)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.waitServed(t); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	// Reading answers the server's close handshake.
	late := h.dial(t)
	readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	var m host.Message
	err := wsjson.Read(readCtx, late, &m)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("late host read = %v, want going away", err)
	}
	if err := h.waitServed(t); !errors.Is(err, app.ErrShuttingDown) {
		t.Errorf("Serve after Shutdown = %v, want ErrShuttingDown", err)
	}
}
