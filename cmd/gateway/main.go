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

	"github.com/joho/godotenv"

	"github.com/rift-hq/gateway/internal/agent"
	"github.com/rift-hq/gateway/internal/artifact"
	"github.com/rift-hq/gateway/internal/config"
	"github.com/rift-hq/gateway/internal/ratelimit"
	"github.com/rift-hq/gateway/internal/registry"
	"github.com/rift-hq/gateway/internal/resolver"
	"github.com/rift-hq/gateway/internal/resultcache"
	"github.com/rift-hq/gateway/internal/server"
	"github.com/rift-hq/gateway/internal/storage"
	"github.com/rift-hq/gateway/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("GATEWAY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("gateway starting", "version", version, "port", cfg.Port)

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run migrations. RunMigrations tracks applied files in schema_migrations
	// and skips duplicates, so errors here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Filesystem artifact store for terminal results and PDF reports.
	store := artifact.NewStore(cfg.OutputsDir, logger)

	// Volatile registry of in-flight runs.
	reg := registry.New()

	// Completed-run reuse cache (disabled when TTL is zero).
	cache := resultcache.New(cfg.ReuseCompletedTTL)
	defer cache.Close()
	if cache.Enabled() {
		logger.Info("reuse policy: enabled", "ttl", cfg.ReuseCompletedTTL)
	} else {
		logger.Info("reuse policy: disabled")
	}

	// Healing pipeline client.
	pipeline, err := agent.NewClient(agent.Config{
		BaseURL: cfg.AgentURL,
		Timeout: cfg.AgentTimeout,
	})
	if err != nil {
		return fmt.Errorf("agent client: %w", err)
	}

	// Tiered resolution: registry answers for in-flight runs, the artifact
	// store for completed ones, the database for everything older.
	statusTiers := []resolver.StatusTier{
		&resolver.RegistryTier{Registry: reg},
		&resolver.ArtifactTier{Store: store},
		&resolver.DatabaseTier{DB: db},
	}
	resultTiers := []resolver.ResultTier{
		&resolver.RegistryTier{Registry: reg},
		&resolver.ArtifactTier{Store: store},
		&resolver.DatabaseTier{DB: db},
	}
	res := resolver.New(statusTiers, resultTiers, logger)

	// SSE broker and validated broadcaster.
	broker := server.NewBroker(cfg.EventBufferSize)
	broadcaster := server.NewBroadcaster(broker, logger)

	// Submission rate limiter.
	var limiter ratelimit.Limiter
	if cfg.SubmitRatePerSec > 0 {
		mem := ratelimit.NewMemoryLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
		logger.Info("submission rate limiting: memory (in-process token bucket)",
			"rate", cfg.SubmitRatePerSec, "burst", cfg.SubmitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("submission rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Deps: server.HandlersDeps{
			Registry:           reg,
			Artifacts:          store,
			DB:                 db,
			Resolver:           res,
			Broker:             broker,
			Broadcaster:        broadcaster,
			Cache:              cache,
			Agent:              pipeline,
			Logger:             logger,
			Version:            version,
			MaxIterations:      cfg.MaxIterations,
			DispatchTimeout:    cfg.DispatchTimeout,
			HealthProbeTimeout: cfg.HealthProbeTimeout,
		},
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("gateway shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("gateway stopped")
	return nil
}
