// Package mssql implements telemetry.Source against a live SQL Server
// instance using the microsoft/go-mssqldb driver. All reads are DMV, Query
// Store, default trace and system_health queries; the package never writes
// to the monitored server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/leapstack-labs/sqlscope/pkg/telemetry"
)

// Config describes one monitored instance.
type Config struct {
	// Name identifies the instance in routes, journal rows and logs.
	Name string `koanf:"name" yaml:"name" json:"name"`
	// DSN is a sqlserver:// URL or an ADO connection string. Credentials
	// usually arrive via ${VAR} expansion in the config loader.
	DSN string `koanf:"dsn" yaml:"dsn" json:"dsn"`
	// Timeout bounds every telemetry query except plan capture.
	Timeout time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout"`
	// TopQueries caps the query grid size.
	TopQueries int `koanf:"top_queries" yaml:"top_queries" json:"top_queries"`
	// MaxOpenConns caps the pool; monitoring needs very few.
	MaxOpenConns int `koanf:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

func (c Config) topQueries() int {
	if c.TopQueries <= 0 {
		return 100
	}
	return c.TopQueries
}

func (c Config) maxOpenConns() int {
	if c.MaxOpenConns <= 0 {
		return 2
	}
	return c.MaxOpenConns
}

// Validate checks the fields a client cannot be opened without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("instance name is required")
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("instance %q: dsn is required", c.Name)
	}
	return nil
}

// Client is the live-instance Source. Safe for concurrent use; the pool
// underneath serializes as configured.
type Client struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger
}

var _ telemetry.Source = (*Client)(nil)

// Open validates the config and prepares the pool. No connection is made
// until the first query; Ping forces one.
func Open(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns())
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &Client{cfg: cfg, db: db, logger: logger.With("instance", cfg.Name)}, nil
}

// Name returns the configured instance name.
func (c *Client) Name() string { return c.cfg.Name }

// Ping verifies the instance is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", c.cfg.Name, err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// queryCtx applies the per-query timeout.
func (c *Client) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.timeout())
}
