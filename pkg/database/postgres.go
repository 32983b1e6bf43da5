// Package database opens the connections the pipeline reads through: the
// PostgreSQL pool of the queried database and the optional Redis cache.
package database

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName tags the pipeline's sessions in pg_stat_activity.
const ApplicationName = "ekaya-query"

// DB is the pool of the queried database.
type DB struct {
	*pgxpool.Pool
}

// Config sizes the pool. Zero values take the defaults below.
type Config struct {
	URL               string
	MaxConnections    int32
	MinConnections    int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewConnection opens the pool and pings it once. Every session defaults to
// read-only transactions, so a statement that slips past validation still
// cannot write.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	applyPoolDefaults(poolConfig, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func applyPoolDefaults(poolConfig *pgxpool.Config, cfg *Config) {
	poolConfig.MaxConns = cmp.Or(cfg.MaxConnections, 10)
	poolConfig.MinConns = min(cfg.MinConnections, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = cmp.Or(cfg.MaxConnLifetime, 30*time.Minute)
	poolConfig.MaxConnIdleTime = cmp.Or(cfg.MaxConnIdleTime, 5*time.Minute)
	poolConfig.HealthCheckPeriod = cmp.Or(cfg.HealthCheckPeriod, 30*time.Second)

	params := poolConfig.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = ApplicationName
	}
	params["default_transaction_read_only"] = "on"
}
