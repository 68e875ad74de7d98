package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/vivavoce/pkg/capture"
	"github.com/MrWong99/vivavoce/pkg/provider/detect"
	"github.com/MrWong99/vivavoce/pkg/provider/stt"
	"github.com/MrWong99/vivavoce/pkg/provider/tts"
)

// ErrClosed is returned by port operations once the connection has ended.
var ErrClosed = errors.New("host: connection closed")

// Compile-time interface assertions.
var (
	_ stt.Provider    = (*Conn)(nil)
	_ tts.Provider    = (*Conn)(nil)
	_ detect.Provider = (*Conn)(nil)
	_ capture.Device  = (*Conn)(nil)
)

const (
	defaultWriteTimeout = 5 * time.Second
	eventBuffer         = 32
	transcriptBuffer    = 16
)

// Option is a functional option for [NewConn].
type Option func(*Conn)

// WithWriteTimeout bounds every frame written to the host. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// Conn is a server-side host connection. It is safe for concurrent use.
type Conn struct {
	ws           *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	log          *slog.Logger

	nextID atomic.Uint64
	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	pending   map[string]chan Message
	listeners map[string]*listenSession
	err       error
}

// NewConn wraps an accepted websocket and starts reading from it. The
// connection ends when ctx is done, the peer disconnects or Close is called.
func NewConn(ctx context.Context, ws *websocket.Conn, opts ...Option) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		ws:           ws,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: defaultWriteTimeout,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		pending:      make(map[string]chan Message),
		listeners:    make(map[string]*listenSession),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	go c.readLoop()
	return c
}

// Events delivers host-initiated events. It is closed when the connection
// ends.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection with a normal closure.
func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "session ended")
	c.cancel()
	return err
}

// Send writes msg to the host.
func (c *Conn) Send(msg Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("host: write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Conn) newID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// request sends msg with a fresh ID and waits for the host's reply.
func (c *Conn) request(ctx context.Context, msg Message) (Message, error) {
	msg.ID = c.newID()
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[msg.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return Message{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	}
}

// Speak implements [tts.Provider]. It returns once the host reports the
// utterance finished.
func (c *Conn) Speak(ctx context.Context, text string) error {
	r, err := c.request(ctx, Message{Type: TypeSpeak, Text: text})
	if err != nil {
		return fmt.Errorf("host: speak: %w", err)
	}
	if r.Error != "" {
		return fmt.Errorf("host: speak: %s", r.Error)
	}
	return nil
}

// Detect implements [detect.Provider]. The host runs the detector on the
// frame it captured for f.Seq.
func (c *Conn) Detect(ctx context.Context, f capture.Frame) ([]detect.Detection, error) {
	r, err := c.request(ctx, Message{Type: TypeDetect, Seq: f.Seq})
	if err != nil {
		return nil, fmt.Errorf("host: detect: %w", err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("host: detect: %s", r.Error)
	}
	return r.Items, nil
}

// Acquire implements [capture.Device] by switching the host's camera on.
func (c *Conn) Acquire(ctx context.Context) (capture.Handle, error) {
	on := true
	r, err := c.request(ctx, Message{Type: TypeCamera, On: &on})
	if err != nil {
		return nil, fmt.Errorf("host: acquire camera: %w", err)
	}
	if !r.OK {
		reason := r.Error
		if reason == "" {
			reason = "denied"
		}
		return nil, fmt.Errorf("host: acquire camera: %s", reason)
	}
	return &cameraHandle{conn: c}, nil
}

// StartStream implements [stt.Provider]. The attempt ends when the host
// sends listen_end or listen_error, or when the handle is closed.
func (c *Conn) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	ls := &listenSession{
		conn:     c,
		id:       c.newID(),
		partials: make(chan stt.Transcript, transcriptBuffer),
		finals:   make(chan stt.Transcript, transcriptBuffer),
	}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.listeners[ls.id] = ls
	c.mu.Unlock()

	if err := c.Send(Message{Type: TypeListen, ID: ls.id, Lang: cfg.Language}); err != nil {
		c.dropListener(ls.id)
		ls.end(nil)
		return nil, fmt.Errorf("host: start listening: %w", err)
	}
	if ctx.Err() != nil {
		_ = ls.Close()
		return nil, ctx.Err()
	}
	return ls, nil
}

func (c *Conn) dropListener(id string) *listenSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.listeners[id]
	delete(c.listeners, id)
	return ls
}

// readLoop dispatches incoming frames until the connection fails.
func (c *Conn) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var msg Message
		if err = wsjson.Read(c.ctx, c.ws, &msg); err != nil {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Message) {
	switch msg.Type {
	case TypeSpoke, TypeDetections, TypeCamera:
		c.mu.Lock()
		reply, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.log.Debug("host: reply for unknown request", "type", msg.Type, "id", msg.ID)
			return
		}
		select {
		case reply <- msg:
		default:
		}

	case TypeTranscript:
		c.mu.Lock()
		ls := c.listeners[msg.ID]
		c.mu.Unlock()
		if ls != nil {
			ls.deliver(msg.Text, msg.Final)
		}

	case TypeListenEnd, TypeListenError:
		if ls := c.dropListener(msg.ID); ls != nil {
			var err error
			if msg.Type == TypeListenError {
				reason := msg.Error
				if reason == "" {
					reason = "recognition failed"
				}
				err = fmt.Errorf("host: %s", reason)
			}
			ls.end(err)
		}

	case TypeVisibility:
		c.emit(Event{Type: EventVisibility, Hidden: msg.Hidden, Reload: msg.Reload})
	case TypeStart:
		c.emit(Event{Type: EventStart})
	case TypeQuit:
		c.emit(Event{Type: EventQuit})

	default:
		c.log.Debug("host: ignoring message", "type", msg.Type)
	}
}

// emit queues ev for the session. Events are dropped while the buffer is
// full so that replies behind them are still dispatched.
func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("host: event buffer full, dropping event", "type", string(ev.Type))
	}
}

// shutdown records err and fails every waiter. Runs once, from readLoop.
func (c *Conn) shutdown(err error) {
	if c.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
		err = ErrClosed
	}

	c.mu.Lock()
	c.err = err
	listeners := c.listeners
	c.listeners = make(map[string]*listenSession)
	c.mu.Unlock()

	for _, ls := range listeners {
		ls.end(ErrClosed)
	}
	c.cancel()
	close(c.done)
	close(c.events)
}

// listenSession is one recognition attempt on the host.
type listenSession struct {
	conn     *Conn
	id       string
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	ended  bool
	err    error
	closed bool
}

var _ stt.SessionHandle = (*listenSession)(nil)

func (s *listenSession) deliver(text string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	t := stt.Transcript{Text: text, IsFinal: final}
	ch := s.partials
	if final {
		ch = s.finals
	}
	select {
	case ch <- t:
	default:
		s.conn.log.Warn("host: transcript dropped", "listen_id", s.id, "final", final)
	}
}

// end closes the channels. Only the first call has any effect.
func (s *listenSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

func (s *listenSession) Partials() <-chan stt.Transcript { return s.partials }
func (s *listenSession) Finals() <-chan stt.Transcript   { return s.finals }

func (s *listenSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the attempt on the host. Idempotent.
func (s *listenSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.dropListener(s.id)
	s.end(nil)
	if err := s.conn.Send(Message{Type: TypeStopListening, ID: s.id}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// cameraHandle is the live camera on the host.
type cameraHandle struct {
	conn *Conn

	mu       sync.Mutex
	seq      uint64
	released bool
}

var _ capture.Handle = (*cameraHandle)(nil)

// Frame returns a reference to the host's current frame. The pixels stay on
// the host; the detector addresses them by sequence number.
func (h *cameraHandle) Frame(ctx context.Context) (capture.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return capture.Frame{}, capture.ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}
	select {
	case <-h.conn.done:
		return capture.Frame{}, capture.ErrReleased
	default:
	}
	h.seq++
	return capture.Frame{Seq: h.seq, CapturedAt: time.Now()}, nil
}

// Release switches the camera off. Idempotent.
func (h *cameraHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	off := false
	if err := h.conn.Send(Message{Type: TypeCamera, On: &off}); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("host: release camera: %w", err)
	}
	return nil
}
