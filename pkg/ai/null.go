package ai

import (
	"context"
	"fmt"
)

// NullVision is a no-op vision provider used when no model backend is
// configured. Analysis succeeds with a placeholder description so the
// pipeline keeps working in limited mode.
type NullVision struct{}

// NewNullVision creates a new NullVision.
func NewNullVision() *NullVision {
	return &NullVision{}
}

func (v *NullVision) Analyze(ctx context.Context, image []byte, prompt string) (*Analysis, error) {
	return &Analysis{
		Description: fmt.Sprintf("Photo captured (%d bytes)", len(image)),
		Confidence:  0,
	}, nil
}

// NullSpeech is a no-op speech provider used when no speech backend is
// configured. Recognition returns an empty transcript; synthesis fails.
type NullSpeech struct{}

// NewNullSpeech creates a new NullSpeech.
func NewNullSpeech() *NullSpeech {
	return &NullSpeech{}
}

func (s *NullSpeech) Recognize(ctx context.Context, audio []byte) (string, error) {
	return "", nil
}

func (s *NullSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return nil, fmt.Errorf("speech synthesis not configured")
}
