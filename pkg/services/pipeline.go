// Package services wires the query pipeline stages together and keeps the
// shared schema snapshot current.
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/guardrail"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// SchemaRanker selects the schema slice shown to the LLM.
type SchemaRanker interface {
	Rank(ctx context.Context, question string, snapshot *models.SchemaSnapshot, budget int) (*models.RankedSlice, error)
}

// IntentResolver turns a question into a bound intent.
type IntentResolver interface {
	Resolve(ctx context.Context, question string, slice *models.RankedSlice) (*models.Intent, error)
}

// SQLGenerator compiles an intent to parameterized SQL.
type SQLGenerator interface {
	Generate(in *models.Intent) (*models.RawSQL, error)
}

// SQLValidator checks generated SQL against the slice it was generated for.
type SQLValidator interface {
	Validate(raw *models.RawSQL, slice *models.RankedSlice) (*sql.ValidatedQuery, error)
}

// Guardrail authorizes validated queries.
type Guardrail interface {
	Check(ctx context.Context, vq *sql.ValidatedQuery) (*guardrail.Verdict, error)
}

// QueryExecutor runs authorized queries.
type QueryExecutor interface {
	Execute(ctx context.Context, vq *sql.ValidatedQuery, verdict *guardrail.Verdict) (*models.ExecutionResult, error)
}

// RequestAuditor records the outcome of every pipeline run.
type RequestAuditor interface {
	LogRequest(ctx context.Context, outcome audit.RequestOutcome)
}

// NarrativeSynthesizer summarizes execution results.
type NarrativeSynthesizer interface {
	Summarize(ctx context.Context, question string, result *models.ExecutionResult) (*Narrative, error)
}

// PipelineService answers natural language questions with read-only queries.
type PipelineService interface {
	// AnswerQuestion runs every stage in order and stops at the first
	// failure. Errors are always *apperrors.PipelineError.
	AnswerQuestion(ctx context.Context, question string) (*models.ExecutionResult, error)

	// Answer runs AnswerQuestion and, when synthesize is set, adds a
	// narrative. Synthesis failures leave Narrative nil; they never fail
	// the request.
	Answer(ctx context.Context, question string, synthesize bool) (*Answer, error)
}

// Answer is an execution result with an optional narrative.
type Answer struct {
	Result    *models.ExecutionResult `json:"result"`
	Narrative *Narrative              `json:"answer,omitempty"`
}

// PipelineDeps are the stages and policies of a pipeline.
type PipelineDeps struct {
	Snapshots   *SnapshotStore
	Ranker      SchemaRanker
	Resolver    IntentResolver
	Generator   SQLGenerator
	Validator   SQLValidator
	Guardrail   Guardrail
	Executor    QueryExecutor
	Synthesizer NarrativeSynthesizer // optional
	Auditor     RequestAuditor       // optional

	// RankBudget is passed to the ranker; zero uses the ranker's default.
	RankBudget int
	// MaxQuestionChars rejects longer questions; zero disables the check.
	MaxQuestionChars int
	// RequestTimeout bounds a whole run; zero leaves only the caller's deadline.
	RequestTimeout time.Duration
}

type pipelineService struct {
	deps   PipelineDeps
	logger *zap.Logger
}

// NewPipelineService creates a pipeline from its stages.
func NewPipelineService(deps PipelineDeps, logger *zap.Logger) PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pipelineService{deps: deps, logger: logger.Named("pipeline")}
}

// run carries the per-request state of one pipeline execution.
type run struct {
	id       string
	started  time.Time
	snapshot string
	limit    int
}

func (s *pipelineService) AnswerQuestion(ctx context.Context, question string) (*models.ExecutionResult, error) {
	r := &run{id: uuid.NewString(), started: time.Now()}
	ctx = audit.WithRequestID(ctx, r.id)
	if s.deps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.RequestTimeout)
		defer cancel()
	}

	result, stage, err := s.answer(ctx, r, question)
	if err != nil {
		perr := apperrors.AtStage(stage, r.id, err)
		s.finish(ctx, r, nil, perr)
		return nil, perr
	}
	result.RequestID = r.id
	s.finish(ctx, r, result, nil)
	return result, nil
}

func (s *pipelineService) answer(ctx context.Context, r *run, question string) (*models.ExecutionResult, apperrors.Stage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.StageRequest, apperrors.New(apperrors.KindInvalidRequest, "question is empty")
	}
	if s.deps.MaxQuestionChars > 0 && utf8.RuneCountInString(question) > s.deps.MaxQuestionChars {
		return nil, apperrors.StageRequest, apperrors.New(apperrors.KindInvalidRequest, "question is too long")
	}

	snapshot := s.deps.Snapshots.Load()
	if snapshot == nil {
		return nil, apperrors.StageSnapshot, apperrors.New(apperrors.KindSnapshotUnavailable, "no schema snapshot is loaded")
	}
	r.snapshot = snapshot.Version

	var slice *models.RankedSlice
	err := stage(ctx, apperrors.StageRank, func() (err error) {
		slice, err = s.deps.Ranker.Rank(ctx, question, snapshot, s.deps.RankBudget)
		return err
	})
	if err != nil {
		return nil, apperrors.StageRank, err
	}

	var in *models.Intent
	if err := stage(ctx, apperrors.StageResolve, func() (err error) {
		in, err = s.deps.Resolver.Resolve(ctx, question, slice)
		return err
	}); err != nil {
		return nil, apperrors.StageResolve, err
	}

	var raw *models.RawSQL
	if err := stage(ctx, apperrors.StageGenerate, func() (err error) {
		raw, err = s.deps.Generator.Generate(in)
		return err
	}); err != nil {
		return nil, apperrors.StageGenerate, err
	}

	var vq *sql.ValidatedQuery
	if err := stage(ctx, apperrors.StageValidate, func() (err error) {
		vq, err = s.deps.Validator.Validate(raw, slice)
		return err
	}); err != nil {
		return nil, apperrors.StageValidate, err
	}

	var verdict *guardrail.Verdict
	if err := stage(ctx, apperrors.StageGuardrail, func() (err error) {
		verdict, err = s.deps.Guardrail.Check(ctx, vq)
		return err
	}); err != nil {
		return nil, apperrors.StageGuardrail, err
	}
	r.limit = verdict.Limit

	var result *models.ExecutionResult
	if err := stage(ctx, apperrors.StageExecute, func() (err error) {
		result, err = s.deps.Executor.Execute(ctx, vq, verdict)
		return err
	}); err != nil {
		return nil, apperrors.StageExecute, err
	}
	return result, apperrors.StageExecute, nil
}

// stage runs fn unless ctx is already done, and records its duration.
func stage(ctx context.Context, name apperrors.Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.KindCanceled, "request canceled", err)
	}
	start := time.Now()
	err := fn()
	metrics.ObserveStage(string(name), time.Since(start))
	if err != nil && ctx.Err() != nil && apperrors.KindOf(err) == apperrors.KindInternal {
		return apperrors.Wrap(apperrors.KindCanceled, "request canceled", err)
	}
	return err
}

func (s *pipelineService) finish(ctx context.Context, r *run, result *models.ExecutionResult, perr *apperrors.PipelineError) {
	outcome := audit.RequestOutcome{
		SnapshotVersion: r.snapshot,
		ElapsedMS:       time.Since(r.started).Milliseconds(),
		Limit:           r.limit,
	}
	if perr != nil {
		outcome.Stage = string(perr.Stage)
		outcome.Kind = string(perr.Kind)
		outcome.Reason = perr.Reason
		metrics.ObserveRequest(string(perr.Kind))
		s.logger.Info("Question rejected",
			zap.String("request_id", r.id),
			zap.String("stage", string(perr.Stage)),
			zap.String("kind", string(perr.Kind)),
			zap.String("reason", perr.Reason))
	} else {
		outcome.RowCount = result.RowCount
		outcome.Truncated = result.Truncated
		metrics.ObserveRequest("")
		s.logger.Debug("Question answered",
			zap.String("request_id", r.id),
			zap.Int("rows", result.RowCount),
			zap.Int64("elapsed_ms", outcome.ElapsedMS))
	}
	if s.deps.Auditor != nil {
		s.deps.Auditor.LogRequest(ctx, outcome)
	}
}

func (s *pipelineService) Answer(ctx context.Context, question string, synthesize bool) (*Answer, error) {
	result, err := s.AnswerQuestion(ctx, question)
	if err != nil {
		return nil, err
	}
	answer := &Answer{Result: result}
	if !synthesize || s.deps.Synthesizer == nil {
		return answer, nil
	}

	narrative, err := s.deps.Synthesizer.Summarize(ctx, question, result)
	if err != nil {
		s.logger.Warn("Answer synthesis failed",
			zap.String("request_id", result.RequestID),
			zap.Error(err))
		return answer, nil
	}
	answer.Narrative = narrative
	return answer, nil
}

var _ PipelineService = (*pipelineService)(nil)
