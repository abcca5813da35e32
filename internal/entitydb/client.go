// Package entitydb provides the Postgres-backed relational entity store.
package entitydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Config holds Postgres connection configuration.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	QueryDebug      bool
}

// Client wraps a bun database on top of a pgx pool.
type Client struct {
	pool   *pgxpool.Pool
	db     *bun.DB
	logger *slog.Logger
}

// NewClient creates the pool, pings the server and wraps it in bun.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "entitydb")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
	if cfg.QueryDebug {
		db.AddQueryHook(&queryLoggingHook{logger: logger})
	}

	logger.Info("database pool created",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns,
	)

	return &Client{pool: pool, db: db, logger: logger}, nil
}

// Close closes bun and the underlying pool.
func (c *Client) Close() error {
	c.logger.Info("closing database pool")
	err := c.db.Close()
	c.pool.Close()
	return err
}

// DB exposes the bun handle for schema bootstrap and fixtures.
func (c *Client) DB() *bun.DB {
	return c.db
}

const slowQuery = 3 * time.Second

// queryLoggingHook logs every query at debug level, slow ones at warn.
type queryLoggingHook struct {
	logger *slog.Logger
}

var _ bun.QueryHook = (*queryLoggingHook)(nil)

func (h *queryLoggingHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLoggingHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Error("query error", "query", event.Query, "duration", duration, "error", event.Err)
	case duration > slowQuery:
		h.logger.Warn("slow query", "query", event.Query, "duration", duration)
	default:
		h.logger.Debug("query", "query", event.Query, "duration", duration)
	}
}
