// Package executor runs authorized queries against the database.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/guardrail"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// Executor runs a validated query under the limit its verdict allows.
type Executor struct {
	runner datasource.ReadOnlyRunner
	cfg    config.ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(runner datasource.ReadOnlyRunner, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{runner: runner, cfg: cfg, logger: logger.Named("executor")}
}

// Execute runs vq read-only with the statement timeout and returns at most
// the verdict's limit (further capped by the configured row cap). When that
// limit is tighter than the statement's own LIMIT, or the LIMIT was supplied
// by the validator, one extra row is requested so a result cut short is
// reported as Truncated. A statement whose own LIMIT is honored in full is
// never truncated.
func (x *Executor) Execute(ctx context.Context, vq *sql.ValidatedQuery, verdict *guardrail.Verdict) (*models.ExecutionResult, error) {
	if vq == nil || !verdict.Authorized() {
		return nil, apperrors.New(apperrors.KindInternal, "query is not authorized for execution")
	}

	limit := verdict.Limit
	if x.cfg.RowCap > 0 {
		limit = min(limit, x.cfg.RowCap)
	}
	limit = max(limit, 0)

	var query string
	switch {
	case limit == 0:
		query = vq.SQLWithLimit(0)
	case ownLimitHonored(vq, limit):
		query = vq.SQL()
	default:
		query = vq.SQLWithLimit(limit + 1)
	}

	start := time.Now()
	rows, err := x.runner.RunReadOnly(ctx, query, vq.Params(), x.cfg.StatementTimeout, limit)
	elapsed := time.Since(start)
	if err != nil {
		var typed *apperrors.Error
		if !errors.As(err, &typed) {
			err = apperrors.Wrap(apperrors.KindInternal, "query execution failed", err)
		}
		x.logger.Info("Execution failed",
			zap.String("kind", string(apperrors.KindOf(err))),
			zap.Duration("elapsed", elapsed))
		return nil, err
	}

	result := &models.ExecutionResult{
		SnapshotVersion: vq.SnapshotVersion(),
		Columns:         make([]models.ResultColumn, len(rows.Columns)),
		Rows:            rows.Values,
		RowCount:        len(rows.Values),
		Truncated:       rows.Truncated,
		AppliedLimit:    limit,
		Elapsed:         elapsed,
	}
	for i, c := range rows.Columns {
		result.Columns[i] = models.ResultColumn{Name: c.Name, Type: c.Type}
	}
	normalizeNumerics(result)

	metrics.ObserveRows(result.RowCount)
	x.logger.Debug("Query executed",
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Int("limit", limit),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// ownLimitHonored reports whether limit is exactly the literal LIMIT the
// statement asked for, so the statement itself bounds the result.
func ownLimitHonored(vq *sql.ValidatedQuery, limit int) bool {
	return vq.ExplicitLimit() && !vq.LimitChanged() && vq.Limit() == limit
}

// normalizeNumerics replaces textual NUMERIC cells with exact decimals.
// Values that do not parse are left as they are.
func normalizeNumerics(result *models.ExecutionResult) {
	for i, col := range result.Columns {
		if col.Type != "NUMERIC" && col.Type != "DECIMAL" {
			continue
		}
		for _, row := range result.Rows {
			s, ok := row[i].(string)
			if !ok {
				continue
			}
			if d, err := decimal.NewFromString(s); err == nil {
				row[i] = d
			}
		}
	}
}
