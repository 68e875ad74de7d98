// Package capture defines the camera/microphone acquisition port.
//
// The assessment core needs exactly two things from a capture device: a live
// handle while the candidate is monitored, and a guarantee that the handle is
// released when the session ends. How the device is opened (browser
// getUserMedia, V4L2, a kiosk agent) is left to implementations.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrReleased is returned by Handle.Frame after the handle has been released.
var ErrReleased = errors.New("capture: handle released")

// Frame is a single video frame captured from a live handle. Data is opaque
// to the core and is passed through to the detector unchanged.
type Frame struct {
	// Seq is a monotonically increasing frame number within the handle.
	Seq uint64

	// CapturedAt is the wall-clock time the frame was captured.
	CapturedAt time.Time

	// Width and Height are the frame dimensions in pixels, if known.
	Width, Height int

	// Data holds the encoded image, or nil when the detector runs on the host
	// side and only needs a frame reference.
	Data []byte
}

// Handle is a live capture. Implementations must be safe for concurrent use.
type Handle interface {
	// Frame returns the current video frame.
	Frame(ctx context.Context) (Frame, error)

	// Release stops all tracks of the capture. Calling Release more than once
	// is safe and returns nil.
	Release() error
}

// Device acquires live capture handles.
type Device interface {
	// Acquire opens the camera (and microphone where applicable). A non-nil
	// error means the candidate denied access or no device is available.
	Acquire(ctx context.Context) (Handle, error)
}
