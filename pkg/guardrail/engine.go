// Package guardrail decides whether a validated query may run. It checks
// row-security requirements, audits bound parameters, and applies cost and
// row ceilings to the planner's estimate before any statement executes.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/auth"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// Decision is the outcome of a guardrail check.
type Decision string

const (
	Approved Decision = "approved"
	Adjusted Decision = "adjusted"
	Rejected Decision = "rejected"
)

// seqScanNode is the plan node type of a full table scan.
const seqScanNode = "Seq Scan"

// Verdict is the result of Engine.Check. Limit is the row limit the query
// must run with; it is only meaningful when the query is authorized.
type Verdict struct {
	Decision      Decision
	Limit         int
	EstimatedRows float64
	EstimatedCost float64
	NodeType      string
	// Heuristic is set when no planner estimate was available and the
	// conservative fallback decided.
	Heuristic bool
	Reason    string
}

// Authorized reports whether the query may execute.
func (v *Verdict) Authorized() bool {
	return v != nil && (v.Decision == Approved || v.Decision == Adjusted)
}

// SecurityAuditor receives security events raised during a check.
type SecurityAuditor interface {
	LogSuspiciousParameter(ctx context.Context, details audit.SuspiciousParameterDetails)
	LogRowSecurityRejection(ctx context.Context, details audit.RowSecurityDetails)
}

// Engine checks validated queries against the configured thresholds.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	planner datasource.Planner
	cfg     config.GuardrailConfig
	auditor SecurityAuditor
	logger  *zap.Logger
}

// NewEngine creates an engine. auditor may be nil.
func NewEngine(planner datasource.Planner, cfg config.GuardrailConfig, auditor SecurityAuditor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		planner: planner,
		cfg:     cfg,
		auditor: auditor,
		logger:  logger.Named("guardrail"),
	}
}

// Check decides whether vq may run. The row-security markers of the caller
// are read from ctx (auth.GetSecurityContext).
//
// A rejection returns both the Rejected verdict and a guardrail_rejected
// error carrying the reason. Planner failures other than an unavailable
// estimate (connection failure, cancellation) are returned as errors with
// a nil verdict. A bare context error, or any failure once ctx is done, is
// reported as canceled rather than falling back to the heuristic.
func (e *Engine) Check(ctx context.Context, vq *sql.ValidatedQuery) (*Verdict, error) {
	if err := e.checkRowSecurity(ctx, vq); err != nil {
		return e.reject(&Verdict{}, err)
	}
	if err := e.checkParameters(ctx, vq); err != nil {
		return e.reject(&Verdict{}, err)
	}

	estimate, err := e.planner.Estimate(ctx, vq.EstimateSQL(), vq.Params())
	if err != nil {
		var typed *apperrors.Error
		if errors.As(err, &typed) && !errors.Is(err, datasource.ErrEstimateUnavailable) {
			return nil, err
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.KindCanceled, "request canceled", err)
		}
		e.logger.Info("Planner estimate unavailable, using heuristic", zap.Error(err))
		return e.heuristic(vq)
	}

	verdict := &Verdict{
		EstimatedRows: estimate.Rows,
		EstimatedCost: estimate.Cost,
		NodeType:      estimate.NodeType,
	}
	if estimate.Cost > e.cfg.CostCeiling {
		return e.reject(verdict, apperrors.Rejected(apperrors.ReasonCost,
			fmt.Sprintf("estimated cost %.0f exceeds the ceiling of %.0f", estimate.Cost, e.cfg.CostCeiling)))
	}
	if !e.boundedByLimit(vq) {
		if estimate.Rows > e.cfg.RowCeiling {
			return e.reject(verdict, apperrors.Rejected(apperrors.ReasonRows,
				fmt.Sprintf("estimated %.0f rows exceeds the ceiling of %.0f; add a filter or a LIMIT", estimate.Rows, e.cfg.RowCeiling)))
		}
		if estimate.NodeType == seqScanNode && estimate.Rows > e.cfg.RowCeiling/10 {
			return e.reject(verdict, apperrors.Rejected(apperrors.ReasonRows,
				fmt.Sprintf("full table scan over an estimated %.0f rows; add a filter or a LIMIT", estimate.Rows)))
		}
	}
	return e.approve(verdict, vq), nil
}

// boundedByLimit reports whether a LIMIT written in the statement keeps the
// result under the row ceiling. An injected LIMIT does not count.
func (e *Engine) boundedByLimit(vq *sql.ValidatedQuery) bool {
	return vq.ExplicitLimit() && float64(vq.Limit()) <= e.cfg.RowCeiling
}

// heuristic decides without a planner estimate: a query must filter its rows
// or carry a small explicit LIMIT.
func (e *Engine) heuristic(vq *sql.ValidatedQuery) (*Verdict, error) {
	verdict := &Verdict{Heuristic: true}
	if vq.HasWhere() || (vq.ExplicitLimit() && vq.Limit() <= e.cfg.HeuristicLimit) {
		return e.approve(verdict, vq), nil
	}
	return e.reject(verdict, apperrors.Rejected(apperrors.ReasonRows,
		fmt.Sprintf("no planner estimate is available; add a filter or a LIMIT of at most %d", e.cfg.HeuristicLimit)))
}

func (e *Engine) approve(verdict *Verdict, vq *sql.ValidatedQuery) *Verdict {
	verdict.Decision = Approved
	verdict.Limit = vq.Limit()
	if e.cfg.ResultRowCap > 0 && verdict.Limit > e.cfg.ResultRowCap {
		verdict.Decision = Adjusted
		verdict.Limit = e.cfg.ResultRowCap
	}
	metrics.ObserveVerdict(string(verdict.Decision), "")
	e.logger.Debug("Query authorized",
		zap.String("decision", string(verdict.Decision)),
		zap.Int("limit", verdict.Limit),
		zap.Float64("estimated_rows", verdict.EstimatedRows),
		zap.Float64("estimated_cost", verdict.EstimatedCost),
		zap.Bool("heuristic", verdict.Heuristic))
	return verdict
}

func (e *Engine) reject(verdict *Verdict, err *apperrors.Error) (*Verdict, error) {
	verdict.Decision = Rejected
	verdict.Reason = err.Reason
	metrics.ObserveVerdict(string(Rejected), err.Reason)
	e.logger.Info("Query rejected",
		zap.String("reason", err.Reason),
		zap.String("summary", err.Summary),
		zap.Bool("heuristic", verdict.Heuristic))
	return verdict, err
}

// checkRowSecurity rejects the query when it reads a sensitive table and the
// caller lacks one of the markers the table requires. A table with row
// security enabled but no derivable markers requires an authenticated caller.
func (e *Engine) checkRowSecurity(ctx context.Context, vq *sql.ValidatedQuery) *apperrors.Error {
	sc := auth.GetSecurityContext(ctx)
	for _, key := range vq.Tables() {
		required, sensitive := e.requiredMarkers(vq.Slice(), key)
		if !sensitive {
			continue
		}
		var missing []string
		for _, m := range required {
			if !sc.HasMarker(m) {
				missing = append(missing, m)
			}
		}
		if len(missing) == 0 && (len(required) > 0 || sc.Principal != "") {
			continue
		}
		if e.auditor != nil {
			e.auditor.LogRowSecurityRejection(ctx, audit.RowSecurityDetails{Table: key, MissingMarkers: missing})
		}
		if len(missing) == 0 {
			return apperrors.Rejected(apperrors.ReasonSecurityPolicy,
				fmt.Sprintf("table %s has row security enabled and requires an authenticated caller", key))
		}
		return apperrors.Rejected(apperrors.ReasonSecurityPolicy,
			fmt.Sprintf("table %s requires security context %s", key, strings.Join(missing, ", ")))
	}
	return nil
}

// requiredMarkers merges the markers of the table's policies with the
// configured sensitive-table markers.
func (e *Engine) requiredMarkers(slice *models.RankedSlice, key string) ([]string, bool) {
	var required []string
	sensitive := false
	if slice != nil {
		for i := range slice.Tables {
			t := &slice.Tables[i]
			if t.Key() != key {
				continue
			}
			sensitive = t.RowSecurity || len(t.Policies) > 0
			for _, p := range t.Policies {
				required = append(required, p.RequiredMarkers...)
			}
		}
	}
	if extra, ok := e.cfg.SensitiveTables[key]; ok {
		sensitive = true
		required = append(required, extra...)
	}
	slices.Sort(required)
	return slices.Compact(required), sensitive
}

// checkParameters audits bound values with libinjection. Findings are always
// logged; they reject the query only when configured to.
func (e *Engine) checkParameters(ctx context.Context, vq *sql.ValidatedQuery) *apperrors.Error {
	findings := sql.CheckParameters(vq.Params())
	if len(findings) == 0 {
		return nil
	}
	for _, f := range findings {
		if e.auditor != nil {
			e.auditor.LogSuspiciousParameter(ctx, audit.SuspiciousParameterDetails{
				Position:    f.Position,
				Fingerprint: f.Fingerprint,
				Rejected:    e.cfg.RejectSuspiciousParams,
			})
		}
	}
	if !e.cfg.RejectSuspiciousParams {
		return nil
	}
	return apperrors.Rejected(apperrors.ReasonSecurityPolicy,
		fmt.Sprintf("parameter $%d looks like an injection payload", findings[0].Position))
}
