// Package runtime wires the service together and owns its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlalabs/parla-core/internal/audit"
	"github.com/parlalabs/parla-core/internal/auth"
	"github.com/parlalabs/parla-core/internal/bus"
	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/gateway"
	"github.com/parlalabs/parla-core/internal/generate"
	"github.com/parlalabs/parla-core/internal/history"
	"github.com/parlalabs/parla-core/internal/ledger"
	"github.com/parlalabs/parla-core/internal/model"
	"github.com/parlalabs/parla-core/internal/natsserver"
	"github.com/parlalabs/parla-core/internal/pipeline"
	"github.com/parlalabs/parla-core/internal/session"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the optional bus and audit journal, the
// generation stack, and the HTTP server, then blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		busCfg := r.cfg.Bus
		if len(busCfg.Servers) == 0 && embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}
	defer func() {
		busClient.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
	}()

	auditStore, err := audit.Open(ctx, r.cfg.Audit, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audit journal: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	client, err := model.New(r.cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model client: %w", err)
	}

	led := ledger.New(r.cfg.Ledger, r.logger)
	pipe := pipeline.New(r.cfg.Model, client, r.logger)
	hist := history.NewLog()
	generator := generate.NewService(r.cfg.Model, led, pipe, hist, busClient, auditStore, r.logger)
	sessions := session.NewManager(r.cfg.Auth)
	provider := auth.NewProvider(r.cfg.Auth, r.logger)

	server := gateway.NewServer(r.cfg, sessions, led, generator, hist, provider,
		metricsHandler, r.healthy(busClient), r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("model_mode", r.cfg.Model.Mode),
		slog.Bool("bus_enabled", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) healthy(busClient *bus.Client) func() bool {
	return func() bool {
		return r.ready.Load() && busClient.Healthy()
	}
}
