package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
)

// Planner asks PostgreSQL for the plan of a statement without running it.
type Planner struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(db *sql.DB, logger *zap.Logger) *Planner {
	return &Planner{db: db, logger: logger}
}

type explainOutput []struct {
	Plan struct {
		NodeType  string  `json:"Node Type"`
		TotalCost float64 `json:"Total Cost"`
		PlanRows  float64 `json:"Plan Rows"`
	} `json:"Plan"`
}

// Estimate runs EXPLAIN (FORMAT JSON) and returns the root node's cost and
// row estimate. Connection failures and cancellation come back as typed
// pipeline errors; any other failure wraps datasource.ErrEstimateUnavailable.
func (p *Planner) Estimate(ctx context.Context, query string, params []any) (*datasource.PlanEstimate, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query, params...).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		switch classified := ClassifyError(ctx, err); classified.Kind {
		case apperrors.KindCanceled, apperrors.KindConnectionFailure:
			return nil, classified
		}
		p.logger.Warn("EXPLAIN failed",
			zap.String("sql", logging.SanitizeQuery(query)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %w", datasource.ErrEstimateUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: no plan returned", datasource.ErrEstimateUnavailable)
	}

	var out explainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode plan: %w", datasource.ErrEstimateUnavailable, err)
	}
	if len(out) == 0 || out[0].Plan.NodeType == "" {
		return nil, fmt.Errorf("%w: empty plan", datasource.ErrEstimateUnavailable)
	}

	root := out[0].Plan
	p.logger.Debug("Plan estimate",
		zap.String("node_type", root.NodeType),
		zap.Float64("total_cost", root.TotalCost),
		zap.Float64("plan_rows", root.PlanRows))
	return &datasource.PlanEstimate{
		Cost:     root.TotalCost,
		Rows:     root.PlanRows,
		NodeType: root.NodeType,
	}, nil
}

var _ datasource.Planner = (*Planner)(nil)
