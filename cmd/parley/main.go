package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/booking"
	"github.com/parleyhq/parley/internal/crm"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/scheduler"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/streaming"
	parleymcp "github.com/parleyhq/parley/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	mode := "serve"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return
		case "serve", "mcp":
			mode = os.Args[1]
		default:
			fmt.Fprintf(os.Stderr, "usage: parley [serve|mcp|version]\n")
			os.Exit(2)
		}
	}

	if err := run(loadConfig(), mode); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config, mode string) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	var vault secrets.Vault
	if cfg.VaultPassphrase != "" && cfg.VaultSalt != "" {
		vault, err = secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
	} else {
		logger.Warn("credential vault disabled, set vault_passphrase and vault_salt to enable")
	}

	breakers := resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig())

	llmClient, err := reasoning.NewClient(reasoning.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	}, reasoning.WithLogger(logger), reasoning.WithBreakers(breakers))
	if err != nil {
		return fmt.Errorf("configure LLM client: %w", err)
	}
	svc := reasoning.NewService(llmClient, logger)

	var crmClient crm.Client
	if cfg.CRMSimulated || cfg.CRMToken == "" {
		logger.Warn("using simulated CRM client, set crm_base_url and crm_token for live calls")
		crmClient = crm.NewSimulatedClient()
	} else {
		crmClient, err = crm.NewHTTPClient(crm.HTTPConfig{
			BaseURL: cfg.CRMBaseURL,
			Token:   cfg.CRMToken,
		}, crm.WithLogger(logger), crm.WithBreakers(breakers))
		if err != nil {
			return fmt.Errorf("configure CRM client: %w", err)
		}
	}

	bookingModule := booking.NewModule(st, crmClient, svc, booking.WithLogger(logger))
	hub := streaming.NewMemoryHub()

	eng, err := engine.New(st, svc, crmClient, bookingModule,
		engine.WithSink(streaming.Sink(hub)),
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Shutdown()

	validator, err := graph.NewValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	reaper, err := scheduler.NewReaper(st, scheduler.Config{
		IdleTimeout:   cfg.idleTimeout(),
		SweepSchedule: cfg.SweepSchedule,
	}, logger)
	if err != nil {
		return fmt.Errorf("build reaper: %w", err)
	}
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer func() { _ = reaper.Stop() }()

	if mode == "mcp" {
		mcpSrv := parleymcp.NewParleyServer(parleymcp.ParleyServerDeps{
			Engine:    eng,
			Store:     st,
			Validator: validator,
			Logger:    logger,
		})
		logger.Info("MCP server listening on stdio", "version", version)
		return mcpSrv.Serve(ctx)
	}

	apiSrv := api.NewServer(api.Deps{
		Store:     st,
		Engine:    eng,
		Validator: validator,
		Hub:       hub,
		Vault:     vault,
		Logger:    logger,
	})
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiSrv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// newLogger builds the process logger with correlation ID enrichment.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
