package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/executor"
	"github.com/ekaya-inc/ekaya-query/pkg/guardrail"
	"github.com/ekaya-inc/ekaya-query/pkg/intent"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/ranker"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
	"github.com/ekaya-inc/ekaya-query/pkg/sqlgen"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

type fakePlanner struct {
	estimate *datasource.PlanEstimate
	calls    int
}

func (f *fakePlanner) Estimate(context.Context, string, []any) (*datasource.PlanEstimate, error) {
	f.calls++
	return f.estimate, nil
}

type fakeRunner struct {
	rows  *datasource.Rows
	sql   string
	calls int
}

func (f *fakeRunner) RunReadOnly(_ context.Context, query string, _ []any, _ time.Duration, _ int) (*datasource.Rows, error) {
	f.calls++
	f.sql = query
	return f.rows, nil
}

type fixedGenerator struct {
	query string
}

func (g fixedGenerator) Generate(*models.Intent) (*models.RawSQL, error) {
	return &models.RawSQL{SQL: g.query}, nil
}

type recordingRequests struct {
	outcomes []audit.RequestOutcome
}

func (r *recordingRequests) LogRequest(_ context.Context, o audit.RequestOutcome) {
	r.outcomes = append(r.outcomes, o)
}

type failingSynthesizer struct{}

func (failingSynthesizer) Summarize(context.Context, string, *models.ExecutionResult) (*Narrative, error) {
	return nil, errors.New("llm down")
}

// harness assembles a pipeline with real stages between a scripted LLM and
// fake database adapters.
type harness struct {
	client   *llm.MockLLMClient
	planner  *fakePlanner
	runner   *fakeRunner
	requests *recordingRequests
	deps     PipelineDeps
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		client:   llm.NewMockLLMClient(replies...),
		planner:  &fakePlanner{estimate: &datasource.PlanEstimate{Cost: 12, Rows: 5, NodeType: "Limit"}},
		runner:   &fakeRunner{rows: &datasource.Rows{Columns: []datasource.ColumnInfo{{Name: "id", Type: "INT4"}}, Values: [][]any{{int64(1)}}}},
		requests: &recordingRequests{},
	}

	store := NewSnapshotStore()
	store.Swap(testhelpers.ShopSnapshot())

	guardrailCfg := config.GuardrailConfig{CostCeiling: 100000, RowCeiling: 500000, HeuristicLimit: 100, ResultRowCap: 500}
	h.deps = PipelineDeps{
		Snapshots:        store,
		Ranker:           ranker.New(ranker.NewLexicalScorer(), config.RankerConfig{TopN: 8, BudgetChars: 1 << 16}, logger),
		Resolver:         intent.NewResolver(h.client, config.IntentConfig{MaxRepairs: 2, MaxMalformedRepairs: 1}, 0, 0, logger),
		Generator:        sqlgen.NewGenerator(config.GeneratorConfig{DefaultLimit: 100, MaxLimit: 1000}, logger),
		Validator:        sql.NewValidator(config.ValidatorConfig{LimitCeiling: 1000}, logger),
		Guardrail:        guardrail.NewEngine(h.planner, guardrailCfg, audit.NewAuditor(logger), logger),
		Executor:         executor.NewExecutor(h.runner, config.ExecutorConfig{StatementTimeout: time.Second, RowCap: 500}, logger),
		Auditor:          h.requests,
		MaxQuestionChars: 200,
	}
	return h
}

func (h *harness) service(t *testing.T) PipelineService {
	return NewPipelineService(h.deps, zaptest.NewLogger(t))
}

func pipelineError(t *testing.T, err error) *apperrors.PipelineError {
	t.Helper()
	var perr *apperrors.PipelineError
	require.ErrorAs(t, err, &perr)
	return perr
}

func TestPipeline_RecentOrders(t *testing.T) {
	h := newHarness(t, `{"target": ["id", "created_at"], "filters": [], "order_by": [{"column": "created_at", "direction": "desc"}], "limit": 5}`)

	result, err := h.service(t).AnswerQuestion(context.Background(), "show me the 5 most recent orders")
	require.NoError(t, err)

	assert.Contains(t, h.runner.sql, "FROM orders")
	assert.True(t, strings.HasSuffix(h.runner.sql, "LIMIT 5"), h.runner.sql)
	assert.False(t, result.Truncated)
	assert.Equal(t, 5, result.AppliedLimit)
	assert.Equal(t, 1, result.RowCount)
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, testhelpers.ShopSnapshot().Version, result.SnapshotVersion)

	require.Len(t, h.requests.outcomes, 1)
	outcome := h.requests.outcomes[0]
	assert.Empty(t, outcome.Kind)
	assert.Equal(t, 5, outcome.Limit)
	assert.Equal(t, 1, outcome.RowCount)
}

func TestPipeline_UnrepairableIntent(t *testing.T) {
	h := newHarness(t, `{"action": "DELETE"}`)

	_, err := h.service(t).AnswerQuestion(context.Background(), "delete all orders")
	perr := pipelineError(t, err)

	assert.Equal(t, apperrors.StageResolve, perr.Stage)
	assert.Equal(t, apperrors.KindIntentUnrepairable, perr.Kind)
	assert.NotEmpty(t, perr.RequestID)
	assert.Equal(t, 3, h.client.Calls())
	assert.Zero(t, h.planner.calls)
	assert.Zero(t, h.runner.calls)

	require.Len(t, h.requests.outcomes, 1)
	assert.Equal(t, "resolve", h.requests.outcomes[0].Stage)
	assert.Equal(t, "intent_unrepairable", h.requests.outcomes[0].Kind)
}

func TestPipeline_UnknownTableStopsAtValidation(t *testing.T) {
	h := newHarness(t, `{"target": ["id"], "filters": []}`)
	h.deps.Generator = fixedGenerator{query: "SELECT id FROM shipments LIMIT 10"}

	_, err := h.service(t).AnswerQuestion(context.Background(), "list shipments")
	perr := pipelineError(t, err)

	assert.Equal(t, apperrors.StageValidate, perr.Stage)
	assert.Equal(t, apperrors.KindUnknownReference, perr.Kind)
	assert.Zero(t, h.planner.calls)
	assert.Zero(t, h.runner.calls)
}

func TestPipeline_LargeScanNeedsLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantErr   bool
		wantLimit int
	}{
		{name: "no limit", query: "SELECT id FROM orders", wantErr: true},
		{name: "explicit limit", query: "SELECT id FROM orders LIMIT 100", wantLimit: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, `{"target": ["id"], "filters": []}`)
			h.planner.estimate = &datasource.PlanEstimate{Cost: 900, Rows: 50_000_000, NodeType: "Seq Scan"}
			h.deps.Generator = fixedGenerator{query: tt.query}

			result, err := h.service(t).AnswerQuestion(context.Background(), "all order ids")
			if tt.wantErr {
				perr := pipelineError(t, err)
				assert.Equal(t, apperrors.StageGuardrail, perr.Stage)
				assert.Equal(t, apperrors.KindGuardrailRejected, perr.Kind)
				assert.Equal(t, apperrors.ReasonRows, perr.Reason)
				assert.Zero(t, h.runner.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, result.AppliedLimit)
			assert.Equal(t, "SELECT id FROM orders LIMIT 100", h.runner.sql)
		})
	}
}

func TestPipeline_RequestChecks(t *testing.T) {
	tests := []struct {
		name      string
		question  string
		noSnap    bool
		wantStage apperrors.Stage
		wantKind  apperrors.Kind
	}{
		{name: "empty", question: "   ", wantStage: apperrors.StageRequest, wantKind: apperrors.KindInvalidRequest},
		{name: "too long", question: strings.Repeat("x", 201), wantStage: apperrors.StageRequest, wantKind: apperrors.KindInvalidRequest},
		{name: "no snapshot", question: "open orders", noSnap: true, wantStage: apperrors.StageSnapshot, wantKind: apperrors.KindSnapshotUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.noSnap {
				h.deps.Snapshots = NewSnapshotStore()
			}

			_, err := h.service(t).AnswerQuestion(context.Background(), tt.question)
			perr := pipelineError(t, err)
			assert.Equal(t, tt.wantStage, perr.Stage)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Zero(t, h.client.Calls())
		})
	}
}

func TestPipeline_Canceled(t *testing.T) {
	h := newHarness(t, `{"target": ["id"], "filters": []}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.service(t).AnswerQuestion(ctx, "open orders")
	perr := pipelineError(t, err)
	assert.Equal(t, apperrors.KindCanceled, perr.Kind)
	assert.Equal(t, apperrors.StageRank, perr.Stage)
	assert.Zero(t, h.client.Calls())
}

func TestPipeline_Answer(t *testing.T) {
	intentReply := `{"target": ["id", "status"], "filters": [{"column": "status", "operator": "=", "value": "open"}]}`

	t.Run("with narrative", func(t *testing.T) {
		h := newHarness(t, intentReply, `{"response": "There is one open order.", "highlights": ["order 1"]}`)
		h.deps.Synthesizer = NewSynthesizer(h.client, 0, zaptest.NewLogger(t))

		answer, err := h.service(t).Answer(context.Background(), "which orders are open?", true)
		require.NoError(t, err)
		require.NotNil(t, answer.Narrative)
		assert.Equal(t, "There is one open order.", answer.Narrative.Response)
		assert.Equal(t, 1, answer.Result.RowCount)
	})

	t.Run("synthesis failure keeps result", func(t *testing.T) {
		h := newHarness(t, intentReply)
		h.deps.Synthesizer = failingSynthesizer{}

		answer, err := h.service(t).Answer(context.Background(), "which orders are open?", true)
		require.NoError(t, err)
		assert.Nil(t, answer.Narrative)
		assert.NotNil(t, answer.Result)
	})

	t.Run("not requested", func(t *testing.T) {
		h := newHarness(t, intentReply)
		h.deps.Synthesizer = failingSynthesizer{}

		answer, err := h.service(t).Answer(context.Background(), "which orders are open?", false)
		require.NoError(t, err)
		assert.Nil(t, answer.Narrative)
		assert.Equal(t, 1, h.client.Calls())
	})
}
