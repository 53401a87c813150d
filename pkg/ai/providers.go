// Package ai defines the contracts for the vision and speech backends.
// The gateway only mediates; concrete model clients live behind these
// interfaces and are supplied at wiring time.
package ai

import "context"

// Analysis is the result of a vision call.
type Analysis struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// VisionProvider analyzes a camera frame and answers a prompt about it.
type VisionProvider interface {
	Analyze(ctx context.Context, image []byte, prompt string) (*Analysis, error)
}

// SpeechProvider converts between audio and text.
type SpeechProvider interface {
	// Recognize transcribes PCM audio. An empty string with nil error
	// means nothing intelligible was heard.
	Recognize(ctx context.Context, audio []byte) (string, error)

	// Synthesize renders text to audio bytes.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
