// Package tts defines the Provider interface for speech synthesis backends.
//
// Synthesis is an external capability: the assessment core only needs "speak
// this text and tell me when you are done". Backends are expected to queue
// utterances in call order the way a browser speechSynthesis queue does, but
// callers in this module serialise speech themselves (see package speech), so
// implementations only need to be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Speak renders text as audible speech and blocks until playback has
	// finished, the backend fails, or ctx is cancelled.
	Speak(ctx context.Context, text string) error
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func(ctx context.Context, text string) error

// Speak calls f(ctx, text).
func (f ProviderFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }
