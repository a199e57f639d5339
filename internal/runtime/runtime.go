package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-piper/internal/bus"
	"github.com/loqalabs/loqa-piper/internal/capability"
	"github.com/loqalabs/loqa-piper/internal/config"
	"github.com/loqalabs/loqa-piper/internal/eventstore"
	"github.com/loqalabs/loqa-piper/internal/natsserver"
	"github.com/loqalabs/loqa-piper/internal/registry"
	"github.com/loqalabs/loqa-piper/internal/tts"
)

type healthChecker interface {
	Healthy() bool
}

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	ready  atomic.Bool
	checks map[string]healthChecker
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
		checks: make(map[string]healthChecker),
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	defer busClient.Close()
	r.checks["bus"] = busClient

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer journal.Close()

	speaker, err := r.buildSpeaker()
	if err != nil {
		return err
	}
	if c, ok := speaker.(interface{ Close() }); ok {
		defer c.Close()
	}
	available := r.preload(ctx, speaker)

	nodes, err := capability.NewRegistry(ctx, r.cfg.Node, busClient,
		[]capability.Capability{capability.TTSCapability(r.cfg.TTS, available)}, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	defer nodes.Close()
	r.checks["capabilities"] = nodes

	service := tts.NewService(ctx, r.cfg.TTS, busClient, speaker, journal, r.logger)
	if err := service.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}
	defer service.Close()
	r.checks["tts"] = service

	servers := []*http.Server{r.serve(fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port), r.mux())}
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		servers = append(servers, r.serve(r.cfg.Telemetry.PrometheusBind, metricsMux))
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("node_id", r.cfg.Node.ID), slog.Bool("engine_available", available))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := speaker.Stop(stopCtx); err != nil {
		r.logger.Warn("speaker stop failed", slog.String("error", err.Error()))
	}
	for _, srv := range servers {
		if err := srv.Shutdown(stopCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) buildSpeaker() (tts.Speaker, error) {
	backends := registry.New[tts.Speaker]()
	if !tts.Register(backends, tts.WithLogger(r.logger)) {
		return nil, errors.New("register piper backend")
	}
	speaker, err := backends.Create(r.cfg.TTS.Backend, tts.OptionsFromConfig(r.cfg.TTS))
	if err != nil {
		return nil, fmt.Errorf("create tts backend: %w", err)
	}
	return speaker, nil
}

// preload warms the engine. A missing installation is logged, not fatal: the
// node still joins the bus and reports the engine as unavailable.
func (r *Runtime) preload(ctx context.Context, speaker tts.Speaker) bool {
	if err := speaker.Preload(ctx); err != nil {
		if errors.Is(err, tts.ErrEngineNotInstalled) {
			r.logger.Warn("piper not installed", slog.String("error", err.Error()))
		} else {
			r.logger.Error("piper preload failed", slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

func (r *Runtime) serve(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func (r *Runtime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for name, check := range r.checks {
		if !check.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "%s unhealthy", name)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
