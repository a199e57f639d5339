package tts

import (
	"context"

	"github.com/loqalabs/loqa-piper/internal/audio"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// Engine is a bound synthesis backend. Implementations block until audio is
// ready; the adapter takes care of running them off the caller's goroutine.
type Engine interface {
	Synthesize(ctx context.Context, req SynthRequest) (audio.PCM, error)
}

// Stopper is implemented by engines with a native way to abort synthesis.
type Stopper interface {
	Stop(ctx context.Context) error
}

// EngineFactory performs the one-time engine/model initialization.
type EngineFactory func(ctx context.Context) (Engine, error)

// Speaker is the contract shared by text-to-speech adapters. Playback is not
// part of it; callers hand the audio to a sink of their own.
type Speaker interface {
	Preload(ctx context.Context) error
	Synth(ctx context.Context, text string) (audio.PCM, error)
	Say(ctx context.Context, text string) error
	Stop(ctx context.Context) error
}
