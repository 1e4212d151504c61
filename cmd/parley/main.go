// Parley orchestration server: HTTP control surface, the session
// registry, and the streamed debate engine behind it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/cleanup"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/persistence"
	"github.com/parleyhq/parley/pkg/version"
)

const httpShutdownTimeout = 5 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Parley",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Metrics provider (Prometheus exporter scraped via /metrics)
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    version.AppName,
		ServiceVersion: version.GitCommit,
	})
	if err != nil {
		slog.Error("Failed to initialize metrics provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := metricsShutdown(flushCtx); err != nil {
			slog.Error("Error shutting down metrics provider", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// 3. Storage: Postgres when configured, in-memory otherwise
	var gateway persistence.Gateway
	var dbClient *database.Client
	if database.Configured() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		gateway = persistence.NewPostgresGateway(dbClient.Pool())
		slog.Info("Connected to PostgreSQL database")
	} else {
		gateway = persistence.NewMemoryGateway()
		slog.Warn("Database not configured, using in-memory storage; transcripts will not survive restarts")
	}

	// 4. Event bus with persistence-backed reconnect catch-up
	bus := events.NewBus(
		cfg.Engine.EventBufferSize,
		cfg.Engine.SubscriberBufferSize,
		cfg.Engine.HeartbeatInterval,
		persistence.CatchupSource(gateway),
	)
	defer bus.Shutdown()

	// Transient storage failures retry in the background and surface as
	// persistence_degraded events instead of killing turns.
	retrying := persistence.NewRetrying(gateway, bus, nil)

	// 5. Session registry + crash recovery for orphaned sessions
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Gateway: retrying,
		Bus:     bus,
		Config:  cfg,
		Metrics: metrics,
	})
	if err := registry.RecoverOrphans(ctx); err != nil {
		slog.Error("Orphan recovery failed", "error", err)
		// Non-fatal — continue
	}

	// 6. Retention sweeper for finished sessions
	cleaner := cleanup.NewService(cfg.System.Retention, retrying, nil)
	cleaner.Start(ctx)

	// 7. HTTP server
	server, err := api.NewServer(api.Deps{
		Registry: registry,
		Gateway:  retrying,
		Bus:      bus,
		DB:       dbClient,
		Config:   cfg,
		Metrics:  metrics,
	})
	if err != nil {
		slog.Error("Failed to build HTTP server", "error", err)
		os.Exit(1)
	}

	// 8. Serve until a signal lands or the listener fails
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return server.Start(":" + httpPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("Parley started")
	if err := g.Wait(); err != nil {
		slog.Error("Server error triggered shutdown", "error", err)
	}

	cleaner.Stop()

	// 9. Drain live sessions within the shutdown budget
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.GracefulShutdownTimeout)
	defer cancel()
	if err := registry.Shutdown(drainCtx); err != nil {
		slog.Warn("Shutdown timeout exceeded, incomplete sessions will be orphan-recovered", "error", err)
	} else {
		slog.Info("Sessions drained")
	}

	slog.Info("Shutdown complete")
}
