package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dataset-engine/internal/http"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Jobs     Jobs
	Metrics  *observability.Metrics
	Hub      *realtime.Hub
	Router   *gin.Engine

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	shutdown := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	metrics := observability.NewMetrics()
	repos := wireRepos(clients.DB, log)
	services := wireServices(log, cfg, clients, repos)
	jobs, err := wireJobs(log, cfg, clients, repos, services, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	hub := realtime.NewHub(log)
	handlers := wireHandlers(log, clients, services, hub)

	a := &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        repos,
		Services:     services,
		Jobs:         jobs,
		Metrics:      metrics,
		Hub:          hub,
		Router:       wireRouter(log, cfg, handlers, metrics),
		shutdownOTel: shutdown,
	}
	if cfg.RemoteServicesFile != "" {
		n, err := services.Catalog.SeedFile(ctx, cfg.RemoteServicesFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed remote services: %w", err)
		}
		log.Info("Remote services seeded", "count", n, "file", cfg.RemoteServicesFile)
	}
	return a, nil
}

// Serve runs the HTTP API and, when withWorker is set, the stage workers and the TTL sweeper
// in the same process until ctx is done.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Clients.Bus.StartForwarder(gctx, a.Hub.Broadcast)
	})
	g.Go(func() error {
		return http.NewServerWithEngine(a.Router).Run(gctx, ":"+a.Cfg.Port)
	})
	if withWorker {
		g.Go(func() error { return a.Jobs.Worker.Run(gctx) })
		g.Go(func() error { return a.Jobs.TTL.Run(gctx) })
	}
	a.Log.Info("Serving", "port", a.Cfg.Port, "worker", withWorker)
	return g.Wait()
}

// Work runs the stage workers and the TTL sweeper without the HTTP API.
func (a *App) Work(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Jobs.Worker.Run(gctx) })
	g.Go(func() error { return a.Jobs.TTL.Run(gctx) })
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Notifier != nil {
		a.Services.Notifier.Close()
	}
	a.Clients.Close()
	if a.shutdownOTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
