package tts

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-piper/internal/audio"
)

// placeholderDuration is the length of the silent clip returned until a real
// engine is bound.
const placeholderDuration = 100 * time.Millisecond

type silenceEngine struct {
	format audio.Format
}

// NewSilenceEngine returns an engine that answers every request with 0.1s of
// 16-bit mono silence.
func NewSilenceEngine(sampleRate int) Engine {
	return &silenceEngine{format: audio.Mono16(sampleRate)}
}

func (e *silenceEngine) Synthesize(_ context.Context, _ SynthRequest) (audio.PCM, error) {
	return audio.Silence(e.format, placeholderDuration), nil
}
