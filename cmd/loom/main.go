// Loom server — persists branching worldline sessions, drives the
// generation loop against the configured LLM provider, and streams
// timeline events to websocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/worldloom/loom/pkg/api"
	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/database"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/services"
	"github.com/worldloom/loom/pkg/store"
	"github.com/worldloom/loom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env",
		getEnv("ENV_FILE", ".env"),
		"Path to the .env file; runtime settings persist back to it")
	flag.Parse()

	// Load .env; a missing file is fine, the environment wins anyway.
	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Logging with a runtime-adjustable level
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting loom",
		"version", version.Full(), "port", cfg.Port, "db_url", database.RedactURL(cfg.DBURL))

	// 3. Database (runs pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "dialect", dbClient.Dialect())

	// 4. Store over the sealed-secret cipher
	cipher, err := crypto.NewCipher(cfg.SecretKey)
	if err != nil {
		slog.Error("Failed to initialize cipher", "error", err)
		os.Exit(1)
	}
	st := store.New(dbClient, cipher)

	// Sessions left running by a previous process restart paused.
	cleared, err := st.ResetRunningFlags(ctx)
	if err != nil {
		slog.Error("Failed to reset running flags", "error", err)
		os.Exit(1)
	}
	if cleared > 0 {
		slog.Info("Reset stale running sessions", "count", cleared)
	}

	// 5. Provider registry, memory collaborator, event bus
	httpClient := &http.Client{}
	registry := providers.NewRegistry(httpClient, cfg.ProviderRateLimitRPS)
	mem := memory.NewService(st, httpClient, cfg.Memory)
	bus := events.NewBus()
	eventManager := events.NewManager(bus, events.DefaultWriteTimeout)

	// 6. Services
	runtime := config.NewRuntime(cfg, *envPath)
	provider := services.NewProviderService(st, registry, runtime, bus)
	sim := services.NewSimulation(st, provider, registry, mem, bus, runtime)
	sessions := services.NewSessionService(st, runtime)
	branches := services.NewBranchService(st, bus)
	timeline := services.NewTimelineService(st, sim, bus, sim)
	debug := services.NewDebugService(runtime, level, registry, sim, st, httpClient)
	slog.Info("Services initialized")

	// 7. HTTP server. An explicit GIN_MODE wins; otherwise production
	// runs in release mode.
	if getEnv("GIN_MODE", "") == "" && cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(dbClient, eventManager,
		sessions, branches, timeline, provider, sim, debug, cfg.CORSOrigins)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop runners first so no round is writing
	// while the HTTP server drains.
	sim.StopRunners()
	slog.Info("Runners stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
