// Package mock provides a test double for the detect.Provider interface.
//
// Provider replays scripted frames: each Detect call consumes the next entry
// of Script. Once the script is exhausted it keeps returning Default.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vivavoce/pkg/capture"
	"github.com/MrWong99/vivavoce/pkg/provider/detect"
)

// Provider is a mock implementation of detect.Provider.
type Provider struct {
	mu sync.Mutex

	// Script holds per-call results, consumed in order.
	Script [][]detect.Detection

	// Default is returned once Script is exhausted.
	Default []detect.Detection

	// Err, if non-nil, is returned by every Detect call.
	Err error

	// Delay simulates inference time.
	Delay time.Duration

	calls int
}

// Detect returns the next scripted result.
func (p *Provider) Detect(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
	p.mu.Lock()
	p.calls++
	delay, err := p.Delay, p.Err
	var out []detect.Detection
	if len(p.Script) > 0 {
		out = p.Script[0]
		p.Script = p.Script[1:]
	} else {
		out = slices.Clone(p.Default)
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetDefault replaces Default. Thread-safe.
func (p *Provider) SetDefault(ds []detect.Detection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Default = ds
}

// CallCount returns the number of Detect calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Person returns a confident "person" detection.
func Person() detect.Detection {
	return detect.Detection{Label: "person", Confidence: 0.95, Box: detect.Box{X: 40, Y: 20, W: 200, H: 220}}
}

// Phone returns a "cell phone" detection with the given confidence.
func Phone(confidence float64) detect.Detection {
	return detect.Detection{Label: "cell phone", Confidence: confidence, Box: detect.Box{X: 10, Y: 10, W: 30, H: 60}}
}

var _ detect.Provider = (*Provider)(nil)
