// Command orchestrator runs the agent handoff orchestrator: the HTTP and
// WebSocket API plus a few operator subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/orchestrator/internal/adapter/http"
	cfotel "github.com/Strob0t/orchestrator/internal/adapter/otel"
	"github.com/Strob0t/orchestrator/internal/adapter/ws"
	"github.com/Strob0t/orchestrator/internal/config"
	"github.com/Strob0t/orchestrator/internal/logger"
	"github.com/Strob0t/orchestrator/internal/middleware"
	"github.com/Strob0t/orchestrator/internal/port/broadcast"
	"github.com/Strob0t/orchestrator/internal/port/messagequeue"
	"github.com/Strob0t/orchestrator/internal/resilience"
	"github.com/Strob0t/orchestrator/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// dispatch runs the named subcommand; no arguments means serve.
func dispatch(args []string) error {
	if len(args) == 0 {
		return runServe()
	}
	switch args[0] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate(args[1:])
	case "workflows":
		return runWorkflows(args[1:])
	case "handoffs":
		return runHandoffs(args[1:])
	case "snapshot":
		return runSnapshot(args[1:])
	case "help", "-h", "--help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// services is the wired service layer.
type services struct {
	store     *service.StateStore
	workflows *service.WorkflowService
	handoffs  *service.HandoffService
	quality   *service.QualityService
	events    *service.EventPublisher
}

// newServices wires the services on in and restores the persisted state.
func newServices(ctx context.Context, cfg *config.Config, in *infra, hub *ws.Hub, metrics *cfotel.Metrics) *services {
	s := &services{store: service.NewStateStore(in.backend)}

	// typed nils must not leak into the interfaces
	var queue messagequeue.Queue
	if in.queue != nil {
		queue = in.queue
	}
	var bc broadcast.Broadcaster
	if hub != nil {
		bc = hub
	}
	s.events = service.NewEventPublisher(queue, bc)
	if in.queue != nil {
		s.events.SetBreaker(resilience.NewBreaker("nats-events", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	s.workflows = service.NewWorkflowService(s.store)
	s.handoffs = service.NewHandoffService(s.workflows, s.events, s.store)
	s.quality = service.NewQualityService(cfg.Orchestrator.Gates, s.workflows, s.events)

	if metrics != nil {
		s.store.SetMetrics(metrics)
		s.events.SetMetrics(metrics)
		s.handoffs.SetMetrics(metrics)
		s.quality.SetMetrics(metrics)
	}

	nw := s.workflows.Restore(ctx)
	nh := s.handoffs.Restore(ctx)
	slog.Info("state restored", "workflows", nw, "handoffs", nh)
	return s
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage", cfg.Storage.Backend,
		"nats", cfg.NATS.URL != "",
		"gates", len(cfg.Orchestrator.Gates),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	var metrics *cfotel.Metrics
	if cfg.OTEL.Enabled {
		if metrics, err = cfotel.NewMetrics(); err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Infrastructure ---
	in, err := openInfra(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer in.close()

	// --- Services ---
	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()
	svc := newServices(ctx, cfg, in, hub, metrics)

	if cfg.Orchestrator.SeedFile != "" {
		reqs, err := service.ReadSeedFile(cfg.Orchestrator.SeedFile)
		if err != nil {
			return err
		}
		added, err := svc.workflows.Seed(ctx, reqs)
		if err != nil {
			return err
		}
		slog.Info("workflows seeded", "file", cfg.Orchestrator.SeedFile, "added", added)
	}

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Workflows:      svc.workflows,
		Handoffs:       svc.handoffs,
		Quality:        svc.quality,
		Hub:            hub,
		StorageBackend: cfg.Storage.Backend,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}
	if in.queue != nil {
		handlers.Queue = in.queue
	}

	r := chi.NewRouter()
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws", hub.HandleWS)
	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
