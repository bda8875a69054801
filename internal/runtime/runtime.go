// Package runtime wires the daemon together: telemetry, the message bus,
// the event store, the normalizer chain, and the generation engine.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reeflabs/reef-tts/internal/bus"
	"github.com/reeflabs/reef-tts/internal/config"
	"github.com/reeflabs/reef-tts/internal/engine"
	"github.com/reeflabs/reef-tts/internal/eventstore"
	"github.com/reeflabs/reef-tts/internal/gen"
	"github.com/reeflabs/reef-tts/internal/natsserver"
	"github.com/reeflabs/reef-tts/internal/normalize"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	busClient   *bus.Client
	genService  *gen.Service
	ready       atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every subsystem and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	normalizer, err := normalize.LoadChain(ctx, r.cfg.Normalize, r.logger)
	if err != nil {
		return fmt.Errorf("failed to load normalizer chain: %w", err)
	}
	defer normalizer.Close(context.Background())

	session, err := engine.NewSession(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create inference session: %w", err)
	}

	queue := engine.NewQueue(r.cfg.Engine.QueueSize)
	metrics, err := engine.NewMetrics(queue)
	if err != nil {
		return fmt.Errorf("failed to register engine metrics: %w", err)
	}
	worker := engine.NewWorker(queue, session, r.logger, metrics)
	r.logger.Info("generation engine ready",
		slog.String("session_mode", r.cfg.Engine.SessionMode),
		slog.Int("queue_size", r.cfg.Engine.QueueSize),
		slog.Int("chunk_length", r.cfg.Engine.ChunkLength))

	r.genService = gen.NewService(ctx, r.cfg.Engine, busClient, queue, normalizer, store, metrics, r.logger)
	if err := r.genService.Start(); err != nil {
		return fmt.Errorf("failed to start generation service: %w", err)
	}
	defer r.genService.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		r.pruneLoop(groupCtx, store)
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-groupCtx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	queue.Close()
	if err := group.Wait(); err != nil {
		r.logger.Error("background task error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Healthy reports whether the bus connection and generation service are up.
func (r *Runtime) Healthy() bool {
	return r.busClient.Healthy() && r.genService.Healthy()
}

func (r *Runtime) pruneLoop(ctx context.Context, store *eventstore.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
