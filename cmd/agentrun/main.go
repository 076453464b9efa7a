// agentrun server: provides the HTTP/WebSocket API, executes agent runs and
// streams their events to the requesting user's connection.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/api"
	"github.com/codeready-toolchain/agentrun/pkg/breaker"
	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/database"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
	"github.com/codeready-toolchain/agentrun/pkg/faults"
	"github.com/codeready-toolchain/agentrun/pkg/pipeline"
	"github.com/codeready-toolchain/agentrun/pkg/recovery"
	"github.com/codeready-toolchain/agentrun/pkg/services"
	"github.com/codeready-toolchain/agentrun/pkg/slack"
	"github.com/codeready-toolchain/agentrun/pkg/tracker"
	"github.com/codeready-toolchain/agentrun/pkg/version"
)

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
	slog.Info("Starting agentrun",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()
	clk := clockwork.NewRealClock()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Thread persistence
	var (
		threads  services.ThreadStore
		dbClient *database.Client
	)
	switch cfg.Persistence.Driver {
	case config.DriverPostgres:
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
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		threads = services.NewPostgresThreadStore(dbClient)
		slog.Info("Connected to PostgreSQL database")
	default:
		threads = services.NewMemoryThreadStore()
		slog.Warn("Using in-memory thread store; conversation history is lost on restart")
	}

	// 3. Fault handling
	classifier := faults.NewClassifier(cfg.Errors, clk)
	if cfg.Slack.Enabled {
		notifier := slack.NewService(slack.ServiceConfig{
			Token:   os.Getenv(cfg.Slack.TokenEnv),
			Channel: cfg.Slack.Channel,
		})
		if notifier == nil {
			slog.Warn("Slack is enabled but token or channel is missing; critical error alerts are off",
				"token_env", cfg.Slack.TokenEnv)
		} else {
			classifier.AddObserver(notifier.Observer())
			defer notifier.Wait()
			slog.Info("Slack critical error alerts enabled", "channel", cfg.Slack.Channel)
		}
	}

	// 4. Execution tracking
	execTracker := tracker.New(cfg.Tracker, clk)
	execTracker.SetTimeoutHandler(func(rec tracker.ExecutionRecord) {
		slog.Warn("Execution stopped heartbeating and was timed out",
			"execution_id", rec.ExecutionID,
			"run_id", rec.RunID,
			"agent", rec.AgentName,
			"user_id", rec.UserID)
	})
	execTracker.Start(ctx)

	// 5. Agents
	factory := agent.NewRegistry()
	pipeline.RegisterAll(factory, cfg.AgentRegistry, pipeline.NewTools(cfg.DependencyRegistry))

	runs := executor.NewRunPool()
	deps := executor.Deps{
		Config:     cfg.Executor,
		Factory:    factory,
		Tracker:    execTracker,
		Classifier: classifier,
		Recovery:   recovery.NewStrategies(cfg.Recovery, classifier, clk),
		Breakers:   breaker.NewRegistry(cfg.Breaker, clk),
		Admission:  executor.NewAdmission(cfg.Admission),
		Threads:    threads,
		Runs:       runs,
		Clock:      clk,
	}
	registry := events.NewRegistry(cfg.Events, clk)

	// 6. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, deps, registry, dbClient)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("agentrun started successfully",
		"agents", factory.Names())

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: refuse new runs, let in-flight runs finish
	runsCtx, runsCancel := context.WithTimeout(ctx, cfg.Executor.ShutdownTimeout)
	defer runsCancel()
	if err := runs.Shutdown(runsCtx); err != nil {
		slog.Warn("Shutdown timeout exceeded, remaining runs were cancelled",
			"active", runs.Active())
	}
	execTracker.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
