package tts

import (
	"log/slog"
	"sync"
)

// Stub is a synchronous stand-in with the adapter's shape. It only tracks
// whether it is speaking and logs what it would say.
type Stub struct {
	logger   *slog.Logger
	mu       sync.Mutex
	speaking bool
}

func NewStub(logger *slog.Logger) *Stub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stub{logger: logger.With(slog.String("component", "tts-stub"))}
}

func (s *Stub) Say(text string) {
	s.mu.Lock()
	s.speaking = true
	s.mu.Unlock()
	s.logger.Info("[Piper] say", slog.String("text", text))
}

func (s *Stub) Stop() {
	s.mu.Lock()
	wasSpeaking := s.speaking
	s.speaking = false
	s.mu.Unlock()
	if wasSpeaking {
		s.logger.Info("[Piper] stop")
	}
}

func (s *Stub) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}
