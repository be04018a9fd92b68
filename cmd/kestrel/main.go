// Kestrel - Batch fraud analysis and loan scoring for transaction data.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env if present (local development convenience)
	_ = godotenv.Load()

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	// Optional YAML overlay
	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize structured logger
	setupLogger(cfg.Logging)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize custom flag rules
	flagRules, err := detect.NewFlagRuleSet()
	if err != nil {
		slog.Error("failed to initialize flag rule set", "error", err)
		os.Exit(1)
	}

	// Load flag rules from database (no hardcoded defaults - configure via API)
	if err := loadFlagRulesFromDatabase(ctx, repo, flagRules); err != nil {
		slog.Error("failed to load flag rules", "error", err)
		os.Exit(1)
	}
	slog.Info("flag rules initialized", "rules_count", flagRules.RulesCount())

	// Initialize Detection Engine and Analyzer
	engine := detect.NewEngine(flagRules)
	batchAnalyzer := analyzer.New(engine)
	slog.Info("analyzer initialized",
		"alert_threshold", cfg.Analyzer.AlertThreshold,
		"result_ttl_seconds", cfg.Analyzer.ResultTTL,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		workerCfg := worker.Config{
			TenantIDs:      parseTenantList(os.Getenv("KESTREL_TENANTS")),
			AlertThreshold: cfg.Analyzer.AlertThreshold,
			ResultTTL:      time.Duration(cfg.Analyzer.ResultTTL) * time.Second,
		}

		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, batchAnalyzer, workerCfg)
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(workerCfg.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, batchAnalyzer, flagRules, cfg.Analyzer, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
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

// GlobalTenantID is used for flag rules that apply to all tenants.
const GlobalTenantID = "*"

// loadFlagRulesFromDatabase loads custom flag rules from the database.
// All rules must be configured via POST /flagrules - no hardcoded defaults.
func loadFlagRulesFromDatabase(ctx context.Context, repo domain.Repository, rules *detect.FlagRuleSet) error {
	dbRules, err := repo.ListFlagRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list flag rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading flag rules from database", "count", len(dbRules))
		return rules.LoadRules(dbRules)
	}

	slog.Info("no flag rules in database - configure via POST /flagrules")
	return nil
}

func parseTenantList(raw string) []string {
	if raw == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Batch Fraud Analysis Engine         ║")
	fmt.Println("  ║      Every transaction, accounted.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze             - Analyze a CSV transaction batch")
	fmt.Println("    GET  /analyses            - List recent analyses")
	fmt.Println("    GET  /analyses/{id}       - Get analysis by ID")
	fmt.Println("    GET  /flagrules           - List custom flag rules")
	fmt.Println("    POST /flagrules           - Create a new flag rule")
	fmt.Println("    DELETE /flagrules/{id}    - Disable a flag rule")
	fmt.Println("    POST /flagrules/reload    - Hot-reload flag rules from database")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /ready               - Readiness check")
	fmt.Println()
}
