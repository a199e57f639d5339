package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-piper/internal/audio"
	"github.com/loqalabs/loqa-piper/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Adapter exposes the Piper engine through context-aware calls. Engine work
// runs on a background executor; the caller only waits for the result.
//
// A single stop flag is shared by every call. Stop sets it and Synth clears it
// before scheduling, so a Stop racing with a new Synth may or may not take
// effect for that request.
type Adapter struct {
	cfg        config.TTSConfig
	probe      Probe
	candidates []string
	executor   Executor
	control    Executor
	factory    EngineFactory
	normalizer audio.Normalizer
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *instruments

	initMu  sync.Mutex // serializes lazy engine initialization
	mu      sync.Mutex
	engine  Engine
	stopped atomic.Bool
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithProbe replaces the PATH lookup used to detect an installed engine.
func WithProbe(probe Probe) Option {
	return func(a *Adapter) { a.probe = probe }
}

// WithExecutor replaces the worker pool used for engine initialization and synthesis.
func WithExecutor(ex Executor) Option {
	return func(a *Adapter) { a.executor = ex }
}

func WithEngineFactory(factory EngineFactory) Option {
	return func(a *Adapter) { a.factory = factory }
}

// WithNormalizer post-processes every synthesized buffer. A nil normalizer
// disables the step.
func WithNormalizer(n audio.Normalizer) Option {
	return func(a *Adapter) { a.normalizer = n }
}

// New builds an adapter. The engine itself is not touched until Preload or
// the first Synth.
func New(cfg config.TTSConfig, opts ...Option) (*Adapter, error) {
	if err := config.ValidateTTS(cfg); err != nil {
		return nil, err
	}
	cfg.Options = maps.Clone(cfg.Options)
	cfg.ProbeCommands = append([]string(nil), cfg.ProbeCommands...)
	if len(cfg.ProbeCommands) == 0 {
		cfg.ProbeCommands = append([]string(nil), DefaultProbeCommands...)
	}

	a := &Adapter{
		cfg:        cfg,
		candidates: cfg.ProbeCommands,
		control:    ExecutorFunc(func(task func()) { go task() }),
		tracer:     otel.Tracer(instrumentationName),
	}
	if cfg.Normalize {
		a.normalizer = audio.ToCanonical
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.logger = a.logger.With(slog.String("component", "tts-piper"))
	if a.probe == nil {
		a.probe = LookPathProbe(a.candidates...)
	}
	if a.executor == nil {
		a.executor = NewPool(cfg.Workers)
	}
	if a.factory == nil {
		a.factory = defaultEngineFactory(cfg)
	}
	inst, err := defaultInstruments()
	if err != nil {
		a.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	a.metrics = inst
	return a, nil
}

func defaultEngineFactory(cfg config.TTSConfig) EngineFactory {
	return func(_ context.Context) (Engine, error) {
		switch cfg.Engine {
		case "exec":
			return NewExecEngine(cfg.Command, cfg.Model, cfg.SampleRate, cfg.Options)
		default:
			return NewSilenceEngine(cfg.SampleRate), nil
		}
	}
}

// Config returns the settings the adapter was built with.
func (a *Adapter) Config() config.TTSConfig {
	cfg := a.cfg
	cfg.Options = maps.Clone(a.cfg.Options)
	cfg.ProbeCommands = append([]string(nil), a.cfg.ProbeCommands...)
	return cfg
}

// OutputFormat is the shape of buffers returned by Synth. Any configured
// normalizer is expected to produce the canonical format.
func (a *Adapter) OutputFormat() audio.Format {
	if a.normalizer != nil {
		return audio.Canonical
	}
	return audio.Mono16(a.cfg.SampleRate)
}

// Available runs the installation probe.
func (a *Adapter) Available() bool {
	return a.probe()
}

func (a *Adapter) ensureAvailable() error {
	if !a.probe() {
		return notInstalledError(a.candidates)
	}
	return nil
}

// Preload initializes the engine in the background and keeps the handle.
// Every call runs initialization again and replaces the stored handle.
func (a *Adapter) Preload(ctx context.Context) error {
	if err := a.ensureAvailable(); err != nil {
		return err
	}
	start := time.Now()
	engine, err := offload(ctx, a.executor, func(ctx context.Context) (Engine, error) {
		return a.factory(ctx)
	})
	if err != nil {
		return fmt.Errorf("preload piper engine: %w", err)
	}
	a.setEngine(engine)
	a.logger.Info("piper engine loaded",
		slog.String("engine", a.cfg.Engine),
		slog.String("model", a.cfg.Model),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

type synthOutcome struct {
	pcm     audio.PCM
	stopped bool
}

// Synth turns text into PCM audio. If Stop was called after this request
// cleared the flag but before the background routine started, the result is
// an empty buffer in the configured format.
func (a *Adapter) Synth(ctx context.Context, text string) (audio.PCM, error) {
	if err := a.ensureAvailable(); err != nil {
		return audio.PCM{}, err
	}

	ctx, span := a.tracer.Start(ctx, "tts.synth", trace.WithAttributes(
		attribute.String("tts.engine", a.cfg.Engine),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	start := time.Now()
	a.stopped.Store(false)
	outcome, err := offload(ctx, a.executor, func(ctx context.Context) (synthOutcome, error) {
		return a.synthesize(ctx, text)
	})
	a.metrics.record(ctx, a.cfg.Engine, outcome, float64(time.Since(start).Microseconds())/1000, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return audio.PCM{}, err
	}
	span.SetAttributes(attribute.Bool("tts.stopped", outcome.stopped), attribute.Int("tts.audio_bytes", outcome.pcm.Len()))
	if outcome.stopped {
		a.logger.Debug("synthesis skipped after stop")
		return outcome.pcm, nil
	}
	return a.normalize(outcome.pcm), nil
}

func (a *Adapter) synthesize(ctx context.Context, text string) (synthOutcome, error) {
	if a.stopped.Load() {
		return synthOutcome{pcm: audio.Empty(audio.Mono16(a.cfg.SampleRate)), stopped: true}, nil
	}
	engine, err := a.currentEngine(ctx)
	if err != nil {
		return synthOutcome{}, fmt.Errorf("init piper engine: %w", err)
	}
	pcm, err := engine.Synthesize(ctx, SynthRequest{Text: text, Voice: a.cfg.Voice})
	if err != nil {
		// A native stop aborts the engine mid-flight; that is a stop, not a failure.
		if a.stopped.Load() && ctx.Err() == nil {
			return synthOutcome{pcm: audio.Empty(audio.Mono16(a.cfg.SampleRate)), stopped: true}, nil
		}
		return synthOutcome{}, fmt.Errorf("piper synthesize: %w", err)
	}
	if pcm.Data == nil {
		pcm.Data = []byte{}
	}
	return synthOutcome{pcm: pcm}, nil
}

// currentEngine returns the stored handle, initializing it on first use. The
// factory runs outside mu so Stop never waits on initialization.
func (a *Adapter) currentEngine(ctx context.Context) (Engine, error) {
	if engine := a.loadEngine(); engine != nil {
		return engine, nil
	}
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if engine := a.loadEngine(); engine != nil {
		return engine, nil
	}
	engine, err := a.factory(ctx)
	if err != nil {
		return nil, err
	}
	a.setEngine(engine)
	return engine, nil
}

func (a *Adapter) loadEngine() Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

func (a *Adapter) setEngine(engine Engine) {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
}

// normalize never fails: any error or panic from the normalizer yields the
// original buffer.
func (a *Adapter) normalize(pcm audio.PCM) (out audio.PCM) {
	if a.normalizer == nil {
		return pcm
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("normalizer panicked, returning engine audio", slog.Any("panic", r))
			out = pcm
		}
	}()
	normalized, err := a.normalizer(pcm)
	if err != nil {
		a.logger.Debug("normalization failed, returning engine audio", slog.String("error", err.Error()))
		return pcm
	}
	if normalized.Data == nil {
		return pcm
	}
	return normalized
}

// Say synthesizes text and drops the audio. Playback belongs to the caller's sink.
func (a *Adapter) Say(ctx context.Context, text string) error {
	_, err := a.Synth(ctx, text)
	return err
}

// Stop requests that pending synthesis short-circuit. Engines with a native
// stop are asked to abort as well.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopped.Store(true)

	stopper, ok := a.loadEngine().(Stopper)
	if !ok {
		return nil
	}
	_, err := offload(ctx, a.control, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, stopper.Stop(ctx)
	})
	if err != nil {
		return fmt.Errorf("stop piper engine: %w", err)
	}
	return nil
}

// Close waits for background work started by the adapter's own pool.
func (a *Adapter) Close() {
	if p, ok := a.executor.(*Pool); ok {
		p.Wait()
	}
}

var _ Speaker = (*Adapter)(nil)
