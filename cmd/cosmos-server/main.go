// Package main provides the HTTP server for cosmos lookups and projections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/app"
	"github.com/raphaelgruber/cosmos-go/internal/config"
	"github.com/raphaelgruber/cosmos-go/internal/tracing"
)

const version = "0.1.0"

func main() {
	initSchema := flag.Bool("init-schema", false, "create relational tables and the vector index on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("cosmos-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"postgres_max_conns", cfg.PostgresMaxConns,
		"neo4j_uri", cfg.Neo4jURI,
		"surrealdb_url", cfg.SurrealDBURL,
	)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Endpoint:     cfg.OTLPEndpoint,
		ServiceName:  cfg.ServiceName,
		SamplingRate: cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("failed to connect stores", "error", err)
		os.Exit(1)
	}
	if *initSchema || os.Getenv("COSMOS_INIT_SCHEMA") == "true" {
		if err := a.InitSchema(ctx, cfg.VectorDimension); err != nil {
			cancel()
			logger.Error("failed to initialize schema", "error", err)
			os.Exit(1)
		}
	}
	cancel()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           http.TimeoutHandler(a.Handler(cfg, logger), cfg.ServerTimeout, `{"error":"timeout","message":"request timed out"}`),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.ServerTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api/v1", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := a.Close(ctx); err != nil {
		logger.Error("failed to close stores", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
}
