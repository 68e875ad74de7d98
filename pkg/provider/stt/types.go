package stt

// Transcript is a recognition result. Both interim and final results use this
// type.
type Transcript struct {
	// Text is the recognised speech content.
	Text string

	// IsFinal indicates whether the backend has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64
}
