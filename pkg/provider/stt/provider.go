// Package stt defines the Provider interface for speech recognition backends.
//
// A recognition backend is treated as an external capability. The assessment
// core never decodes audio itself; it opens one recognition attempt at a time
// via StartStream and consumes the resulting transcripts. An attempt mirrors a
// single "start listening" cycle of a browser or kiosk recogniser: zero or more
// interim results, then either a final transcript, a silent end ("no speech"),
// or an error.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrAlreadyStarted is returned by StartStream when the backend is still busy
// with a previous attempt and refuses to start another one.
var ErrAlreadyStarted = errors.New("stt: recognition already started")

// StreamConfig describes a single recognition attempt.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string

	// Interim requests low-latency partial transcripts in addition to finals.
	Interim bool
}

// SessionHandle represents one in-flight recognition attempt.
//
// Finals is closed when the attempt ends, regardless of whether a transcript
// was produced. After Finals is closed, Err reports why the attempt ended: nil
// for a normal end of speech (or silence), non-nil for a device, permission or
// transport failure.
//
// Callers must call Close when the attempt is no longer needed. Close aborts
// the attempt if it is still listening and is safe to call more than once.
type SessionHandle interface {
	// Partials returns a read-only channel of interim transcripts. It is closed
	// when the attempt ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of authoritative transcripts. It is
	// closed when the attempt ends.
	Finals() <-chan Transcript

	// Err returns the terminal error of the attempt. Only meaningful after
	// Finals has been closed.
	Err() error

	// Close stops listening and releases the attempt's resources.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartStream begins a new recognition attempt. A start failure (for
	// example [ErrAlreadyStarted]) is reported as a non-nil error; failures
	// after the attempt has started are reported via SessionHandle.Err.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
