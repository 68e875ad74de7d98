// Package detect defines the Provider interface for visual object detectors.
//
// A detector takes one captured video frame and returns labelled bounding
// boxes with confidences, in the COCO label vocabulary ("person",
// "cell phone", ...). The proctoring monitor calls Detect once per tick.
package detect

import (
	"context"

	"github.com/MrWong99/vivavoce/pkg/capture"
)

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X, Y, W, H float64
}

// Detection is a single labelled object found in a frame.
type Detection struct {
	// Label is the detector's class name, e.g. "person" or "cell phone".
	Label string `json:"label"`

	// Confidence is the detector score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Box locates the object in the frame.
	Box Box `json:"box"`
}

// Provider is the abstraction over any object detector.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Detect runs the detector over frame.
	Detect(ctx context.Context, frame capture.Frame) ([]Detection, error)
}
