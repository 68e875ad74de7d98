// Package mock provides test doubles for the capture package interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/vivavoce/pkg/capture"
)

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	// AcquireErr, if non-nil, is returned by Acquire.
	AcquireErr error

	// Handles records every handle handed out.
	Handles []*Handle
}

// Acquire returns a fresh Handle or AcquireErr.
func (d *Device) Acquire(_ context.Context) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	h := &Handle{}
	d.Handles = append(d.Handles, h)
	return h, nil
}

// AcquireCount returns the number of successful Acquire calls. Thread-safe.
func (d *Device) AcquireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Handles)
}

// ReleaseCount sums Release calls over all handles. Thread-safe.
func (d *Device) ReleaseCount() int {
	d.mu.Lock()
	hs := append([]*Handle(nil), d.Handles...)
	d.mu.Unlock()
	n := 0
	for _, h := range hs {
		n += h.ReleaseCallCount()
	}
	return n
}

var _ capture.Device = (*Device)(nil)

// Handle is a mock implementation of capture.Handle.
type Handle struct {
	mu        sync.Mutex
	seq       uint64
	frames    int
	released  bool
	releaseCt int
}

// Frame returns a synthetic frame, or capture.ErrReleased after Release.
func (h *Handle) Frame(_ context.Context) (capture.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return capture.Frame{}, capture.ErrReleased
	}
	h.seq++
	h.frames++
	return capture.Frame{Seq: h.seq, CapturedAt: time.Now(), Width: 320, Height: 240}, nil
}

// Release records the call.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.releaseCt++
	return nil
}

// ReleaseCallCount returns the number of Release calls. Thread-safe.
func (h *Handle) ReleaseCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releaseCt
}

// FrameCount returns how many frames were served. Thread-safe.
func (h *Handle) FrameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

var _ capture.Handle = (*Handle)(nil)
