// Package graphdb provides the Neo4j-backed relationship graph store.
package graphdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jlog "github.com/neo4j/neo4j-go-driver/v5/neo4j/log"
)

// Config holds Neo4j connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // empty selects the server default
}

// Client wraps a Neo4j driver. Every query runs in a read session.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewClient creates a driver and verifies connectivity.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "graphdb")

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.Log = &slogAdapter{logger: logger}
		})
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}

	logger.Info("connecting to Neo4j", "uri", cfg.URI, "database", cfg.Database)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}

	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Close closes the driver.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing Neo4j driver")
	return c.driver.Close(ctx)
}

// readSession opens a read-only session on the configured database.
func (c *Client) readSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
}

// run executes a read query and collects every record.
func (c *Client) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := c.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// write executes a write query. Used for test fixtures and seeding.
func (c *Client) write(ctx context.Context, query string, params map[string]any) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// slogAdapter routes driver logs to slog.
type slogAdapter struct {
	logger *slog.Logger
}

var _ neo4jlog.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Error(name, id string, err error) {
	a.logger.Error("neo4j driver error", "driver_component", name, "driver_id", id, "error", err)
}

func (a *slogAdapter) Warnf(name, id string, msg string, args ...any) {
	a.logger.Warn(fmt.Sprintf(msg, args...), "driver_component", name, "driver_id", id)
}

func (a *slogAdapter) Infof(name, id string, msg string, args ...any) {
	a.logger.Debug(fmt.Sprintf(msg, args...), "driver_component", name, "driver_id", id)
}

func (a *slogAdapter) Debugf(name, id string, msg string, args ...any) {
	a.logger.Debug(fmt.Sprintf(msg, args...), "driver_component", name, "driver_id", id)
}
