// Package main provides the MCP server entry point for docindex.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
	mcpserver "github.com/bull/docindex/internal/mcp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("DOCINDEX_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// stdout carries the stdio transport, so logs go to stderr.
	logger := app.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Provision(ctx); err != nil {
		return err
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Ingester: a.Pipeline,
		Searcher: a.Search,
		Admin:    a.Catalog,
		Version:  version,
	})

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mcpserver.NewMux(server, a.Catalog, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Mode == "http" {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "catalog", cfg.Catalog.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode still serves /health for local testing.
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting docindex MCP server (stdio mode)", "catalog", cfg.Catalog.Backend)
	return server.Run(ctx)
}
