// Package datasource defines what the query pipeline needs from the database:
// planner estimates, read-only execution and catalog snapshots.
package datasource

import (
	"context"
	"errors"
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// ErrEstimateUnavailable is returned by a Planner that reached the database
// but could not produce a usable estimate (statistics missing, plan output
// unreadable). Callers fall back to heuristics; connection failures are
// reported as themselves.
var ErrEstimateUnavailable = errors.New("planner estimate unavailable")

// ConnectionTester tests database connectivity.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// PlanEstimate is the planner's view of a statement that has not run.
type PlanEstimate struct {
	Cost     float64 `json:"cost"`
	Rows     float64 `json:"rows"`
	NodeType string  `json:"node_type"`
}

// Planner estimates statement cost without executing it.
type Planner interface {
	Estimate(ctx context.Context, sql string, params []any) (*PlanEstimate, error)
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// Rows are the materialized rows of one read-only run. Truncated is set when
// the statement produced more than rowCap rows.
type Rows struct {
	Columns   []ColumnInfo
	Values    [][]any
	Truncated bool
}

// ReadOnlyRunner executes one statement in a read-only transaction bounded by
// timeout, materializing at most rowCap rows. Cancelling ctx cancels the
// statement on the server.
type ReadOnlyRunner interface {
	RunReadOnly(ctx context.Context, sql string, params []any, timeout time.Duration, rowCap int) (*Rows, error)
}

// SnapshotSource extracts the catalog as a versioned snapshot.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (*models.SchemaSnapshot, error)
}
