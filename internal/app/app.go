// Package app wires stores, guards and services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/raphaelgruber/cosmos-go/internal/config"
	"github.com/raphaelgruber/cosmos-go/internal/entitydb"
	"github.com/raphaelgruber/cosmos-go/internal/graphdb"
	"github.com/raphaelgruber/cosmos-go/internal/metrics"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
	"github.com/raphaelgruber/cosmos-go/internal/scoring"
	"github.com/raphaelgruber/cosmos-go/internal/server"
	"github.com/raphaelgruber/cosmos-go/internal/service"
	"github.com/raphaelgruber/cosmos-go/internal/vectordb"
)

// Store names used for guards, metrics and StoreUnavailable errors.
const (
	StoreRelational = "relational"
	StoreVector     = "vector"
	StoreGraph      = "graph"
)

// GraphStore is everything the services need from the graph store.
type GraphStore interface {
	retrieval.GraphStore
	retrieval.StructureSource
}

// Stores are the three backing stores.
type Stores struct {
	Entities service.EntityStore
	Vectors  retrieval.VectorStore
	Graph    GraphStore
}

// Services are the request-facing services built on Stores.
type Services struct {
	Lookup     *service.LookupService
	Projection *service.ProjectionService
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	Cache      *retrieval.ProjectionCache
}

// NewServices builds guards and services over the given stores.
func NewServices(stores Stores, cfg config.Config, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	hooks := resilience.Hooks{
		OnRetry:   func(store, _ string) { mc.IncRetry(store) },
		OnTimeout: func(store, _ string) { mc.IncTimeout(store) },
		OnStateChange: func(store string, to gobreaker.State) {
			mc.SetBreakerState(store, to.String())
		},
	}
	relGuard := resilience.NewGuard(StoreRelational, cfg.RelationalTimeout, cfg.Breaker, hooks, logger)
	vecGuard := resilience.NewGuard(StoreVector, cfg.VectorTimeout, cfg.Breaker, hooks, logger)
	graphGuard := resilience.NewGuard(StoreGraph, cfg.GraphTimeout, cfg.Breaker, hooks, logger)
	for _, store := range []string{StoreRelational, StoreVector, StoreGraph} {
		mc.SetBreakerState(store, gobreaker.StateClosed.String())
	}

	scorer := scoring.NewEngine(cfg.Scoring,
		scoring.WithLogger(logger),
		scoring.WithAnomalyHook(mc.IncScoringAnomaly),
	)

	var cache *retrieval.ProjectionCache
	if cfg.ProjectionCacheTTL > 0 {
		cache = retrieval.NewProjectionCache(cfg.ProjectionCacheSize, cfg.ProjectionCacheTTL)
	}

	lookup := service.NewLookupService(service.LookupDeps{
		Entities:     stores.Entities,
		EntityGuard:  relGuard,
		Semantic:     retrieval.NewSemanticSearch(stores.Vectors, vecGuard, logger),
		Expander:     retrieval.NewExpander(stores.Graph, graphGuard, logger),
		Scorer:       scorer,
		Metrics:      mc,
		PerSeedLimit: cfg.PerSeedLimit,
		Logger:       logger,
	})
	structure := retrieval.NewStructureAssembler(stores.Graph, graphGuard, cache, logger)

	return &Services{
		Lookup:     lookup,
		Projection: service.NewProjectionService(structure, mc, logger),
		Metrics:    mc,
		Registry:   metrics.NewRegistry(mc),
		Cache:      cache,
	}
}

// Handler returns the HTTP handler for these services.
func (s *Services) Handler(cfg config.Config, logger *slog.Logger) http.Handler {
	return server.New(s.Lookup, s.Projection, server.Options{
		Defaults:    cfg.Lookup,
		CORSOrigins: cfg.CORSOrigins,
		LookupRate:  cfg.LookupRate,
		LookupBurst: cfg.LookupBurst,
		Metrics:     metrics.Handler(s.Registry),
		Logger:      logger,
	}).Handler()
}

// App owns live store connections and the services built on them.
type App struct {
	*Services

	entities *entitydb.Client
	vectors  *vectordb.Client
	graph    *graphdb.Client
	logger   *slog.Logger
}

// New connects to all three stores. Any connection failure closes the
// stores opened so far.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	var err error
	a.entities, err = entitydb.NewClient(ctx, entitydb.Config{
		DSN:        cfg.PostgresDSN,
		MaxConns:   cfg.PostgresMaxConns,
		QueryDebug: cfg.PostgresQueryDebug,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect relational store: %w", err)
	}

	a.vectors, err = vectordb.NewClient(ctx, vectordb.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
		Dimension: cfg.VectorDimension,
	}, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	a.graph, err = graphdb.NewClient(ctx, graphdb.Config{
		URI:      cfg.Neo4jURI,
		Username: cfg.Neo4jUser,
		Password: cfg.Neo4jPass,
		Database: cfg.Neo4jDatabase,
	}, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("connect graph store: %w", err)
	}

	a.Services = NewServices(Stores{Entities: a.entities, Vectors: a.vectors, Graph: a.graph}, cfg, logger)
	return a, nil
}

// InitSchema creates the relational tables and the vector index.
func (a *App) InitSchema(ctx context.Context, dimension int) error {
	if err := a.entities.CreateSchema(ctx); err != nil {
		return err
	}
	return a.vectors.InitSchema(ctx, dimension)
}

// Close closes every open store connection.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if a.graph != nil {
		errs = append(errs, a.graph.Close(ctx))
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close(ctx))
	}
	if a.entities != nil {
		errs = append(errs, a.entities.Close())
	}
	return errors.Join(errs...)
}
