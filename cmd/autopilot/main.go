// Autopilot - Autonomous revenue operations for a portfolio of
// micro-businesses: payments, campaign scaling, experiments, forecasts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/api"
	"github.com/autopilot-ventures/autopilot/internal/bus"
	"github.com/autopilot-ventures/autopilot/internal/cache"
	"github.com/autopilot-ventures/autopilot/internal/decision"
	"github.com/autopilot-ventures/autopilot/internal/domain"
	"github.com/autopilot-ventures/autopilot/internal/experiment"
	"github.com/autopilot-ventures/autopilot/internal/forecast"
	"github.com/autopilot-ventures/autopilot/internal/guardrail"
	"github.com/autopilot-ventures/autopilot/internal/notify"
	"github.com/autopilot-ventures/autopilot/internal/payments"
	"github.com/autopilot-ventures/autopilot/internal/policy"
	"github.com/autopilot-ventures/autopilot/internal/repository"
	"github.com/autopilot-ventures/autopilot/internal/velocity"
	"github.com/autopilot-ventures/autopilot/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting autopilot",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tenants", len(cfg.Tenants),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Windowed spend tracker feeds guardrail window_spend
	tracker := velocity.NewTracker()

	// Initialize Guardrail Engine
	engine, err := guardrail.NewEngine(tracker.SpendGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize guardrail engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load guardrails from database (no hardcoded defaults - configure via API)
	loadGuardrailsFromDatabase(ctx, repo, engine, cfg.Tenants)
	slog.Info("guardrail engine initialized", "guardrails_count", engine.GuardrailsCount())

	aggregator := decision.NewAggregator()
	processor := payments.NewProcessor(repo, busImpl, nil)
	experiments := experiment.NewEngine(repo, nil)
	forecaster := forecast.New(cfg.ForecastSeed)
	policies := policy.NewStore(cfg.Policy, repo)

	if cfg.Payments.WebhookSecret == "" {
		slog.Warn("no webhook secret configured, all signed traffic will be rejected")
	}

	// Background worker: scaling loop + async webhook apply
	scalingWorker := worker.NewWorker(busImpl, repo, engine, aggregator, processor, policies)
	workerCfg := worker.Config{
		TenantIDs:    cfg.Tenants,
		TickInterval: cfg.Policy.TickInterval,
		SpendWindow:  3600,
	}
	if err := scalingWorker.Start(workerCfg); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	slog.Info("worker started", "tenant_count", len(cfg.Tenants))

	// Alert dispatcher
	dispatcher := notify.NewDispatcher(busImpl, cfg.Notify)
	if err := dispatcher.Start(cfg.Tenants); err != nil {
		slog.Error("failed to start alert dispatcher", "error", err)
		os.Exit(1)
	}
	if cfg.Notify.SinkURL != "" {
		slog.Info("alert dispatcher started", "sink_url", cfg.Notify.SinkURL)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Processor:   processor,
		Engine:      engine,
		Aggregator:  aggregator,
		Experiments: experiments,
		Forecaster:  forecaster,
		Policies:    policies,
		Tracker:     tracker,
		Payments:    cfg.Payments,
		Version:     Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("autopilot is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := scalingWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}
	if err := dispatcher.Stop(); err != nil {
		slog.Error("failed to stop alert dispatcher", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("autopilot shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadGuardrailsFromDatabase loads each tenant's persisted guardrails.
// Missing or unreadable configs are logged, not fatal: guardrails can
// always be added via POST /guardrails.
func loadGuardrailsFromDatabase(ctx context.Context, repo domain.Repository, engine *guardrail.Engine, tenants []string) {
	for _, tenantID := range tenants {
		configs, err := repo.ListGuardrails(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list guardrails",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		if err := engine.LoadGuardrails(configs); err != nil {
			slog.Warn("failed to load guardrails",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
}
