package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ai/relay/cmd"
	"github.com/calder-ai/relay/internal/budget"
	"github.com/calder-ai/relay/internal/cache"
	"github.com/calder-ai/relay/internal/config"
	"github.com/calder-ai/relay/internal/core/ports"
	"github.com/calder-ai/relay/internal/core/services"
	"github.com/calder-ai/relay/internal/platform/logger"
	"github.com/calder-ai/relay/internal/platform/otel"
	"github.com/calder-ai/relay/internal/ratelimit"
	"github.com/calder-ai/relay/internal/registry"
	"github.com/calder-ai/relay/internal/server"
	"github.com/calder-ai/relay/internal/store"
	"github.com/calder-ai/relay/internal/store/sqlite"
	"github.com/calder-ai/relay/internal/tracker"

	// Adapters self-register with the provider registry.
	_ "github.com/calder-ai/relay/internal/provider/anthropic"
	_ "github.com/calder-ai/relay/internal/provider/openai"
)

const shutdownGrace = 10 * time.Second

func main() {
	log := logger.Must(logger.DefaultConfig())
	defer func() { _ = log.Sync() }()

	cmd.CheckForUpdates()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	shutdownTracer, err := otel.InitTracer("relay", log, os.Stdout)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}

	clients := make(map[string]ports.Client, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		client, err := registry.Build(p)
		if err != nil {
			log.Fatal("failed to build provider client",
				zap.String("provider", p.Name),
				zap.String("type", p.Type),
				zap.Error(err),
			)
		}
		clients[p.Name] = client
		log.Info("registered provider",
			zap.String("provider", p.Name),
			zap.String("type", p.Type),
			zap.Int("priority", p.Priority),
		)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, nil)
	budgetManager := budget.NewManager(cfg.Budget.DailyLimit, nil)

	trackerOpts := []tracker.Option{}

	var (
		ingestor *store.Ingestor
		repo     store.Repository
	)
	if cfg.Store.Enabled {
		repo, err = sqlite.New(cfg.Store.DSN)
		if err != nil {
			log.Fatal("failed to open usage store", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()

		ingestor = store.NewIngestor(log, repo)
		trackerOpts = append(trackerOpts, tracker.WithSink(ingestor))
	}

	usage := tracker.New(budgetManager, log, trackerOpts...)

	var cacheService ports.CacheService
	switch cfg.Cache.Backend {
	case "redis":
		cacheService, err = cache.NewRedis(
			context.Background(),
			cfg.Cache.Redis.Addr,
			cfg.Cache.Redis.Password,
			cfg.Cache.Redis.DB,
		)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
	case "memory":
		cacheService = cache.NewMemory()
	}

	service, err := services.New(cfg.Providers, clients, services.Deps{
		Limiter:  limiter,
		Budget:   budgetManager,
		Tracker:  usage,
		Cache:    cacheService,
		CacheTTL: cfg.Cache.TTL,
		Logger:   log,
	})
	if err != nil {
		log.Fatal("failed to build failover service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ingestor != nil {
		ingestor.Start(ctx)
	}

	var serverOpts []server.Option
	if repo != nil {
		serverOpts = append(serverOpts, server.WithRepository(repo))
	}
	srv := server.New(cfg, log, service, usage, serverOpts...)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("starting gateway",
			zap.String("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.Int("providers", len(clients)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if ingestor != nil {
		ingestor.Stop()
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", zap.Error(err))
	}
}
