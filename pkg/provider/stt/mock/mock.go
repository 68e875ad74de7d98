// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out scripted attempts in order. Each [Attempt] describes
// what one recognition cycle produces: a start error, a list of final
// transcripts, a terminal error, or (with Hang) nothing until the caller
// closes the handle.
//
// Example:
//
//	p := &mock.Provider{Attempts: []mock.Attempt{
//	    {},                          // silence
//	    {Finals: []string{"Alice"}}, // answer
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vivavoce/pkg/provider/stt"
)

// Attempt scripts the behaviour of one StartStream call.
type Attempt struct {
	// StartErr, if non-nil, is returned from StartStream.
	StartErr error

	// Partials are emitted before any final transcript.
	Partials []string

	// Finals are emitted as final transcripts, in order.
	Finals []string

	// Err is reported by Session.Err once the attempt ends.
	Err error

	// Hang keeps the attempt open until Close is called or ctx is cancelled.
	Hang bool
}

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Attempts are consumed one per StartStream call. When exhausted, further
	// calls behave like a hanging attempt.
	Attempts []Attempt

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out.
	Sessions []*Session
}

// StartStream records the call and returns the next scripted attempt.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	att := Attempt{Hang: true}
	if len(p.Attempts) > 0 {
		att = p.Attempts[0]
		p.Attempts = p.Attempts[1:]
	}
	if att.StartErr != nil {
		p.mu.Unlock()
		return nil, att.StartErr
	}
	s := newSession(ctx, att)
	p.Sessions = append(p.Sessions, s)
	p.mu.Unlock()
	return s, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Push appends attempts to the script. Thread-safe.
func (p *Provider) Push(attempts ...Attempt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Attempts = append(p.Attempts, attempts...)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}

	mu         sync.Mutex
	err        error
	closeCount int
	closeOnce  sync.Once
}

func newSession(ctx context.Context, att Attempt) *Session {
	s := &Session{
		partials: make(chan stt.Transcript, len(att.Partials)),
		finals:   make(chan stt.Transcript, len(att.Finals)),
		done:     make(chan struct{}),
	}
	go s.play(ctx, att)
	return s
}

func (s *Session) play(ctx context.Context, att Attempt) {
	defer close(s.finals)
	defer close(s.partials)
	for _, text := range att.Partials {
		s.partials <- stt.Transcript{Text: text}
	}
	for _, text := range att.Finals {
		s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: 0.9}
	}
	if att.Hang {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
	}
	s.mu.Lock()
	s.err = att.Err
	s.mu.Unlock()
}

// Partials returns the interim transcript channel.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err returns the scripted terminal error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and releases a hanging attempt.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

var _ stt.SessionHandle = (*Session)(nil)
