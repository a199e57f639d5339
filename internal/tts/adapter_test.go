package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-piper/internal/audio"
	"github.com/loqalabs/loqa-piper/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAdapter(t *testing.T, cfg config.TTSConfig, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithLogger(newLogger()), WithProbe(StaticProbe(true))}, opts...)
	a, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

type fakeEngine struct {
	calls   atomic.Int32
	stops   atomic.Int32
	err     error
	payload []byte
}

func (f *fakeEngine) Synthesize(_ context.Context, _ SynthRequest) (audio.PCM, error) {
	f.calls.Add(1)
	if f.err != nil {
		return audio.PCM{}, f.err
	}
	pcm := audio.Empty(audio.Mono16(22050))
	pcm.Data = append([]byte(nil), f.payload...)
	return pcm, nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.stops.Add(1)
	return nil
}

func countingFactory(engine Engine, count *atomic.Int32) EngineFactory {
	return func(context.Context) (Engine, error) {
		count.Add(1)
		return engine, nil
	}
}

func TestSynthPlaceholderReturnsSilence(t *testing.T) {
	a := newTestAdapter(t, config.Default().TTS)

	for _, text := range []string{"", "hello", "a much longer sentence with punctuation!"} {
		pcm, err := a.Synth(context.Background(), text)
		if err != nil {
			t.Fatalf("synth %q: %v", text, err)
		}
		if pcm.SampleWidth != 2 || pcm.Channels != 1 {
			t.Fatalf("expected 16-bit mono, got %s", pcm.Format())
		}
		if pcm.SampleRate != 22050 {
			t.Fatalf("expected 22050 Hz, got %d", pcm.SampleRate)
		}
		if pcm.Len() != 4410 {
			t.Fatalf("expected 4410 bytes, got %d", pcm.Len())
		}
	}
}

func TestSynthPlaceholderHonorsSampleRate(t *testing.T) {
	cfg := config.Default().TTS
	cfg.SampleRate = 16000
	a := newTestAdapter(t, cfg)

	pcm, err := a.Synth(context.Background(), "hi")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	if pcm.Len() != 3200 || pcm.SampleRate != 16000 {
		t.Fatalf("expected 3200 bytes at 16000 Hz, got %d at %d", pcm.Len(), pcm.SampleRate)
	}
}

func TestStopBeforeRoutineStartsReturnsEmpty(t *testing.T) {
	var a *Adapter
	stopFirst := ExecutorFunc(func(task func()) {
		if err := a.Stop(context.Background()); err != nil {
			t.Errorf("stop: %v", err)
		}
		go task()
	})
	a = newTestAdapter(t, config.Default().TTS, WithExecutor(stopFirst))

	pcm, err := a.Synth(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	if pcm.Data == nil || pcm.Len() != 0 {
		t.Fatalf("expected empty non-nil payload, got %d bytes", pcm.Len())
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 1 || pcm.SampleWidth != 2 {
		t.Fatalf("unexpected format %s", pcm.Format())
	}
}

func TestSynthClearsEarlierStop(t *testing.T) {
	a := newTestAdapter(t, config.Default().TTS)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	pcm, err := a.Synth(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	if pcm.Len() != 4410 {
		t.Fatalf("expected stop to be cleared by synth, got %d bytes", pcm.Len())
	}
}

func TestSayDiscardsAudio(t *testing.T) {
	engine := &fakeEngine{payload: []byte{1, 2, 3, 4}}
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(countingFactory(engine, &inits)))

	if err := a.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("say: %v", err)
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("expected one synthesis, got %d", engine.calls.Load())
	}
	if engine.stops.Load() != 0 {
		t.Fatalf("say should not touch the engine beyond synthesis")
	}
}

func TestUnavailableEngineFailsBeforeScheduling(t *testing.T) {
	var scheduled atomic.Int32
	counting := ExecutorFunc(func(task func()) {
		scheduled.Add(1)
		go task()
	})
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS,
		WithProbe(StaticProbe(false)),
		WithExecutor(counting),
		WithEngineFactory(countingFactory(&fakeEngine{}, &inits)),
	)

	preloadErr := a.Preload(context.Background())
	if !errors.Is(preloadErr, ErrEngineNotInstalled) {
		t.Fatalf("expected ErrEngineNotInstalled from preload, got %v", preloadErr)
	}
	_, synthErr := a.Synth(context.Background(), "hello")
	if !errors.Is(synthErr, ErrEngineNotInstalled) {
		t.Fatalf("expected ErrEngineNotInstalled from synth, got %v", synthErr)
	}
	if preloadErr.Error() != synthErr.Error() {
		t.Fatalf("expected identical errors, got %q and %q", preloadErr, synthErr)
	}
	if scheduled.Load() != 0 || inits.Load() != 0 {
		t.Fatalf("expected no background work, scheduled=%d inits=%d", scheduled.Load(), inits.Load())
	}
	if a.Available() {
		t.Fatal("expected Available to report false")
	}
}

func TestNormalizerFailureReturnsOriginal(t *testing.T) {
	failing := func(audio.PCM) (audio.PCM, error) { return audio.PCM{}, errors.New("boom") }
	panicking := func(audio.PCM) (audio.PCM, error) { panic("boom") }

	for name, normalizer := range map[string]audio.Normalizer{"error": failing, "panic": panicking} {
		t.Run(name, func(t *testing.T) {
			a := newTestAdapter(t, config.Default().TTS, WithNormalizer(normalizer))
			pcm, err := a.Synth(context.Background(), "hello")
			if err != nil {
				t.Fatalf("synth: %v", err)
			}
			if pcm.Len() != 4410 || pcm.SampleRate != 22050 {
				t.Fatalf("expected original audio, got %d bytes at %d Hz", pcm.Len(), pcm.SampleRate)
			}
		})
	}
}

func TestNormalizeToCanonical(t *testing.T) {
	cfg := config.Default().TTS
	cfg.Normalize = true
	a := newTestAdapter(t, cfg)

	pcm, err := a.Synth(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	if pcm.Format() != audio.Canonical {
		t.Fatalf("expected canonical format, got %s", pcm.Format())
	}
	if pcm.Len() != 3200 {
		t.Fatalf("expected 3200 bytes after resampling, got %d", pcm.Len())
	}
	if a.OutputFormat() != audio.Canonical {
		t.Fatalf("expected output format to report canonical")
	}
}

func TestPreloadRunsInitializationEachTime(t *testing.T) {
	engine := &fakeEngine{payload: []byte{0, 0}}
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(countingFactory(engine, &inits)))

	for i := 0; i < 2; i++ {
		if err := a.Preload(context.Background()); err != nil {
			t.Fatalf("preload: %v", err)
		}
	}
	if inits.Load() != 2 {
		t.Fatalf("expected two initializations, got %d", inits.Load())
	}
	if _, err := a.Synth(context.Background(), "hi"); err != nil {
		t.Fatalf("synth: %v", err)
	}
	if inits.Load() != 2 {
		t.Fatalf("expected synth to reuse preloaded engine, got %d inits", inits.Load())
	}
}

func TestSynthInitializesOnFirstUse(t *testing.T) {
	engine := &fakeEngine{payload: []byte{0, 0}}
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(countingFactory(engine, &inits)))

	for i := 0; i < 3; i++ {
		if _, err := a.Synth(context.Background(), "hi"); err != nil {
			t.Fatalf("synth: %v", err)
		}
	}
	if inits.Load() != 1 {
		t.Fatalf("expected a single lazy initialization, got %d", inits.Load())
	}
}

func TestEngineErrorsPropagate(t *testing.T) {
	sentinel := errors.New("model exploded")
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(countingFactory(&fakeEngine{err: sentinel}, &inits)))

	if _, err := a.Synth(context.Background(), "hi"); !errors.Is(err, sentinel) {
		t.Fatalf("expected engine error, got %v", err)
	}

	failingInit := errors.New("no model")
	b := newTestAdapter(t, config.Default().TTS, WithEngineFactory(func(context.Context) (Engine, error) {
		return nil, failingInit
	}))
	if err := b.Preload(context.Background()); !errors.Is(err, failingInit) {
		t.Fatalf("expected init error from preload, got %v", err)
	}
}

func TestStopInvokesNativeStop(t *testing.T) {
	engine := &fakeEngine{}
	var inits atomic.Int32
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(countingFactory(engine, &inits)))

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop before preload: %v", err)
	}
	if engine.stops.Load() != 0 {
		t.Fatal("no engine loaded yet, native stop should not run")
	}
	if err := a.Preload(context.Background()); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if engine.stops.Load() != 1 {
		t.Fatalf("expected native stop once, got %d", engine.stops.Load())
	}
}

func TestSynthReturnsWhenCallerGivesUp(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	held := ExecutorFunc(func(task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			task()
		}()
	})
	a := newTestAdapter(t, config.Default().TTS, WithExecutor(held))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Synth(ctx, "hello"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default().TTS
	cfg.Engine = "festival"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected invalid engine to be rejected")
	}
}

func TestConfigIsCopied(t *testing.T) {
	cfg := config.Default().TTS
	cfg.Options = map[string]string{"length_scale": "1.0"}
	a := newTestAdapter(t, cfg)
	cfg.Options["length_scale"] = "2.0"

	if got := a.Config().Options["length_scale"]; got != "1.0" {
		t.Fatalf("adapter config changed with caller's map: %q", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		p.Go(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	p.Wait()
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func newExecAdapter(t *testing.T, workers int) (*Adapter, *execEngine) {
	t.Helper()
	cfg := config.Default().TTS
	cfg.Engine = "exec"
	cfg.Command = writeScript(t, "exec sleep 10")
	cfg.Model = writeModel(t)
	cfg.Workers = workers
	a := newTestAdapter(t, cfg)
	if err := a.Preload(context.Background()); err != nil {
		t.Fatalf("preload: %v", err)
	}
	engine, ok := a.loadEngine().(*execEngine)
	if !ok {
		t.Fatalf("expected exec engine, got %T", a.loadEngine())
	}
	return a, engine
}

type synthResult struct {
	pcm audio.PCM
	err error
}

func assertStopped(t *testing.T, results <-chan synthResult, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("expected stop to be reported without error, got %v", r.err)
			}
			if r.pcm.Data == nil || r.pcm.Len() != 0 {
				t.Fatalf("expected empty payload, got %d bytes", r.pcm.Len())
			}
			if r.pcm.Format() != audio.Mono16(22050) {
				t.Fatalf("unexpected format %s", r.pcm.Format())
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("synthesis %d still running after stop", i)
		}
	}
}

func TestStopDuringExecSynthesisReturnsEmpty(t *testing.T) {
	a, engine := newExecAdapter(t, 1)

	results := make(chan synthResult, 1)
	go func() {
		pcm, err := a.Synth(context.Background(), "hello")
		results <- synthResult{pcm, err}
	}()
	waitRunning(t, engine, 1)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	assertStopped(t, results, 1)
}

func TestStopAbortsConcurrentExecSyntheses(t *testing.T) {
	a, engine := newExecAdapter(t, 2)

	results := make(chan synthResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			pcm, err := a.Synth(context.Background(), "hello")
			results <- synthResult{pcm, err}
		}()
	}
	waitRunning(t, engine, 2)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	assertStopped(t, results, 2)
}

func TestCallerCancelDuringExecIsAnError(t *testing.T) {
	a, engine := newExecAdapter(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan synthResult, 1)
	go func() {
		pcm, err := a.Synth(ctx, "hello")
		results <- synthResult{pcm, err}
	}()
	waitRunning(t, engine, 1)
	cancel()

	select {
	case r := <-results:
		if !errors.Is(r.err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synth did not return after cancel")
	}
}

func TestOutputFormatFollowsNormalizer(t *testing.T) {
	custom := newTestAdapter(t, config.Default().TTS, WithNormalizer(audio.ToCanonical))
	if custom.OutputFormat() != audio.Canonical {
		t.Fatalf("expected canonical with custom normalizer, got %s", custom.OutputFormat())
	}

	cfg := config.Default().TTS
	cfg.Normalize = true
	disabled := newTestAdapter(t, cfg, WithNormalizer(nil))
	if disabled.OutputFormat() != audio.Mono16(22050) {
		t.Fatalf("expected engine format without normalizer, got %s", disabled.OutputFormat())
	}
}

func TestStopDoesNotWaitForInitialization(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) (Engine, error) {
		close(entered)
		<-release
		return &fakeEngine{payload: []byte{0, 0}}, nil
	}
	a := newTestAdapter(t, config.Default().TTS, WithEngineFactory(slow))

	results := make(chan synthResult, 1)
	go func() {
		pcm, err := a.Synth(context.Background(), "hello")
		results <- synthResult{pcm, err}
	}()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- a.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked behind engine initialization")
	}

	close(release)
	select {
	case r := <-results:
		if r.err != nil {
			t.Fatalf("synth: %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synth never finished")
	}
}
