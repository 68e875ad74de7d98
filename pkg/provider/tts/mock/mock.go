// Package mock provides a test double for the tts.Provider interface.
//
// Provider records every utterance and returns immediately unless Delay or
// Err is set.
//
// Example:
//
//	p := &mock.Provider{}
//	_ = p.Speak(ctx, "Hello")
//	p.Spoken() // []string{"Hello"}
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vivavoce/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Delay simulates playback time for every utterance.
	Delay time.Duration

	// Err, if non-nil, is returned by every Speak call.
	Err error

	// OnSpeak, if set, is invoked synchronously with each utterance before
	// Speak returns.
	OnSpeak func(text string)

	spoken []string
}

// Speak records the call and simulates playback.
func (p *Provider) Speak(ctx context.Context, text string) error {
	p.mu.Lock()
	p.spoken = append(p.spoken, text)
	delay, err, hook := p.Delay, p.Err, p.OnSpeak
	p.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Spoken returns a copy of all utterances in call order. Thread-safe.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.spoken)
}

// Count returns how many utterances contain substr. Thread-safe.
func (p *Provider) Count(substr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.spoken {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

var _ tts.Provider = (*Provider)(nil)
