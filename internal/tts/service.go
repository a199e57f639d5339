package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-piper/internal/audio"
	"github.com/loqalabs/loqa-piper/internal/bus"
	"github.com/loqalabs/loqa-piper/internal/config"
	"github.com/loqalabs/loqa-piper/internal/eventstore"
	"github.com/loqalabs/loqa-piper/internal/protocol"
	"github.com/nats-io/nats.go"
)

// chunkBytes caps the PCM payload of a single bus message.
const chunkBytes = 16 * 1024

// Service serves synthesis requests arriving on the bus and publishes the
// resulting audio in chunks followed by a status message.
type Service struct {
	cfg     config.TTSConfig
	bus     *bus.Client
	speaker Speaker
	journal *eventstore.Store
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewService wires a speaker to the bus. journal may be nil.
func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, speaker Speaker, journal *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		speaker: speaker,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	reqSub, err := conn.Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, reqSub)
	stopSub, err := conn.Subscribe(protocol.SubjectTTSStop, s.handleStop)
	if err != nil {
		_ = reqSub.Unsubscribe()
		return err
	}
	s.subs = append(s.subs, stopSub)
	return conn.Flush()
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) == 2 }

func (s *Service) timeout() time.Duration {
	if s.cfg.RequestTimeoutS <= 0 {
		return 45 * time.Second
	}
	return time.Duration(s.cfg.RequestTimeoutS) * time.Second
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
		defer cancel()
		s.serve(ctx, req)
	}()
}

func (s *Service) serve(ctx context.Context, req protocol.TTSRequest) {
	log := s.logger.With(slog.String("session_id", req.SessionID))
	if err := s.journal.RecordSession(ctx, req.SessionID, req.Target); err != nil {
		log.Warn("failed to journal session", slogError(err))
	}
	entry := eventstore.Synthesis{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		Voice:     s.cfg.Voice,
		TextChars: len([]rune(req.Text)),
	}
	status := protocol.TTSStatus{SessionID: req.SessionID, Target: req.Target}

	pcm, err := s.speaker.Synth(ctx, req.Text)
	switch {
	case err != nil:
		log.Warn("tts synthesis error", slogError(err))
		entry.Outcome, entry.Detail = eventstore.OutcomeFailed, err.Error()
		status.Error = err.Error()
	case pcm.IsEmpty():
		log.Info("tts synthesis stopped")
		entry.Outcome = eventstore.OutcomeStopped
		status.Stopped = true
	default:
		entry.Outcome = eventstore.OutcomeCompleted
		entry.AudioBytes = pcm.Len()
		entry.AudioMS = pcm.Duration().Milliseconds()
		s.publishAudio(req, pcm)
		status.Completed = true
	}

	if err := s.journal.RecordSynthesis(ctx, entry); err != nil {
		log.Warn("failed to journal synthesis", slogError(err))
	}
	status.Timestamp = time.Now().UTC()
	if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
		log.Warn("failed to publish tts status", slogError(err))
	}
}

func (s *Service) publishAudio(req protocol.TTSRequest, pcm audio.PCM) {
	size := chunkBytes
	if frame := pcm.Format().FrameSize(); frame > 0 {
		size -= size % frame
	}
	for seq, offset := 0, 0; offset < pcm.Len(); seq++ {
		end := min(offset+size, pcm.Len())
		packet := protocol.AudioChunk{
			SessionID:   req.SessionID,
			Target:      req.Target,
			SampleRate:  pcm.SampleRate,
			Channels:    pcm.Channels,
			SampleWidth: pcm.SampleWidth,
			Sequence:    seq,
			PCM:         pcm.Data[offset:end],
			Final:       end == pcm.Len(),
		}
		if err := s.bus.PublishJSON(protocol.SubjectTTSAudio, packet); err != nil {
			s.logger.Warn("failed to publish tts chunk", slogError(err))
			return
		}
		offset = end
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	var stop protocol.TTSStop
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &stop); err != nil {
			s.logger.Debug("ignoring malformed stop payload", slogError(err))
		}
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.speaker.Stop(ctx); err != nil {
		s.logger.Warn("tts stop failed", slogError(err))
		return
	}
	s.logger.Info("tts stop requested", slog.String("reason", stop.Reason))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
