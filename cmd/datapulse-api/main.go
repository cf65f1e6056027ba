package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/datapulse/datapulse/internal/analysis"
	"github.com/datapulse/datapulse/internal/api"
	"github.com/datapulse/datapulse/internal/config"
	"github.com/datapulse/datapulse/internal/nl2sql"
	"github.com/datapulse/datapulse/internal/observability"
	sqliteengine "github.com/datapulse/datapulse/internal/query/sqlite"
	"github.com/datapulse/datapulse/internal/sandbox"
	"github.com/datapulse/datapulse/internal/session"
	"github.com/datapulse/datapulse/internal/sqlcache"
	"github.com/datapulse/datapulse/internal/sqlguard"
	"github.com/datapulse/datapulse/internal/throttle"
)

func main() {
	cfg, err := config.LoadFromEnv("datapulse-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	demoWhitelist := sqlguard.DemoWhitelist()
	demoSchema, demoTables := loadDemoSchema(logger, cfg.Session.DemoDBPath, demoWhitelist)

	registry, err := session.NewRegistry(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		UploadsDir:    cfg.Session.UploadsDir,
		DemoDBPath:    cfg.Session.DemoDBPath,
		DemoSchema:    demoSchema,
		DemoTables:    demoTables,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize session registry", slog.Any("error", err))
		os.Exit(1)
	}

	var generator nl2sql.Generator
	if cfg.AI.Enabled {
		generator, err = nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize SQL generator", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Info("no model configured, heuristic generation only")
	}

	service, err := analysis.NewService(analysis.Config{
		Registry:  registry,
		Cache:     sqlcache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		Throttle:  throttle.New(cfg.Throttle.MaxRequests, cfg.Throttle.Window),
		Generator: generator,
		Fallback:  nl2sql.NewFallbackGenerator(),
		Demo:      sqlguard.NewWhitelistValidator(demoWhitelist),
		Custom:    sqlguard.NewPatternValidator(),
		Engine:    sqliteengine.NewEngine(),
		MaxRows:   cfg.Query.MaxRows,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialize analysis service", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:     logger,
		Registry:   registry,
		Sandbox:    sandbox.NewManager(registry, cfg.Session.MaxUploadBytes, logger),
		Analysis:   service,
		DemoSchema: demoSchema,
		DemoTables: demoTables,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go registry.RunSweeper(ctx)

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// loadDemoSchema introspects the demo database, falling back to the static
// whitelist description when the file is missing or unreadable.
func loadDemoSchema(logger *slog.Logger, dbPath string, whitelist *sqlguard.Whitelist) (string, []string) {
	schema, tables, err := sandbox.Describe(context.Background(), dbPath)
	if err == nil && len(tables) > 0 {
		return schema, tables
	}
	if err != nil {
		logger.Warn("demo database unavailable, using static schema", slog.Any("error", err))
	}

	tables = whitelist.Tables()
	var b strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&b, "Table: %s\n\n", table)
	}
	return b.String(), tables
}
