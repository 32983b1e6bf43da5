// Package postgres implements the datasource contracts for PostgreSQL over
// database/sql, backed by a pgx pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// Adapter provides PostgreSQL connectivity for the planner, the read-only
// runner and the schema extractor.
type Adapter struct {
	db       *sql.DB
	database string
	logger   *zap.Logger
}

// NewAdapter wraps a pgx pool. database is the name the pool must be
// connected to; TestConnection checks it.
func NewAdapter(pool *pgxpool.Pool, database string, logger *zap.Logger) *Adapter {
	return NewAdapterWithDB(stdlib.OpenDBFromPool(pool), database, logger)
}

// NewAdapterWithDB uses an existing *sql.DB.
// If logger is nil, a no-op logger is used.
func NewAdapterWithDB(db *sql.DB, database string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{db: db, database: database, logger: logger.Named("postgres")}
}

// DB returns the underlying handle.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Planner returns an EXPLAIN based planner on this connection.
func (a *Adapter) Planner() *Planner {
	return NewPlanner(a.db, a.logger)
}

// Runner returns a read-only runner on this connection.
func (a *Adapter) Runner() *QueryRunner {
	return NewQueryRunner(a.db, a.logger)
}

// Extractor returns a catalog extractor for the given schemas.
func (a *Adapter) Extractor(schemas []string) *SchemaExtractor {
	return NewSchemaExtractor(a.db, schemas, a.logger)
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks:
// 1. Server connectivity (ping)
// 2. Correct database name (to prevent connecting to wrong/default database)
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	if a.database != "" && !strings.EqualFold(currentDB, a.database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.database, currentDB)
	}

	return nil
}

// Close releases the database/sql handle. The pool it wraps is owned by
// the caller.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)
