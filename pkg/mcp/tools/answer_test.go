package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

type fakePipeline struct {
	answer     *services.Answer
	err        error
	question   string
	synthesize bool
}

func (f *fakePipeline) AnswerQuestion(ctx context.Context, question string) (*models.ExecutionResult, error) {
	a, err := f.Answer(ctx, question, false)
	if err != nil {
		return nil, err
	}
	return a.Result, nil
}

func (f *fakePipeline) Answer(_ context.Context, question string, synthesize bool) (*services.Answer, error) {
	f.question, f.synthesize = question, synthesize
	return f.answer, f.err
}

// callTool runs one tools/call through the server and returns its result.
func callTool(t *testing.T, s *server.MCPServer, name string, arguments map[string]any) *mcp.CallToolResult {
	t.Helper()
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params":  map[string]any{"name": name, "arguments": arguments},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), req))
	require.NoError(t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))
	require.NotNil(t, response.Result, string(raw))
	return response.Result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func newAnswerServer(t *testing.T, pipeline *fakePipeline) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterAnswerTool(s, &AnswerToolDeps{Pipeline: pipeline, Logger: zaptest.NewLogger(t)})
	return s
}

func TestAnswerTool_Success(t *testing.T) {
	pipeline := &fakePipeline{answer: &services.Answer{Result: &models.ExecutionResult{
		RequestID:    "req-1",
		Columns:      []models.ResultColumn{{Name: "id", Type: "INT4"}},
		Rows:         [][]any{{int64(1)}},
		RowCount:     1,
		AppliedLimit: 5,
	}}}

	result := callTool(t, newAnswerServer(t, pipeline), "answer_question", map[string]any{
		"question":   "show me the 5 most recent orders",
		"synthesize": true,
	})

	assert.False(t, result.IsError)
	assert.Equal(t, "show me the 5 most recent orders", pipeline.question)
	assert.True(t, pipeline.synthesize)

	var answer services.Answer
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &answer))
	assert.Equal(t, "req-1", answer.Result.RequestID)
	assert.Equal(t, 5, answer.Result.AppliedLimit)
	assert.Nil(t, answer.Narrative)
}

func TestAnswerTool_PipelineError(t *testing.T) {
	pipeline := &fakePipeline{err: apperrors.AtStage(apperrors.StageGuardrail, "req-9",
		apperrors.Rejected(apperrors.ReasonRows, "estimated rows exceed the ceiling"))}

	result := callTool(t, newAnswerServer(t, pipeline), "answer_question", map[string]any{"question": "every order"})

	assert.True(t, result.IsError)
	assert.False(t, pipeline.synthesize)
	assert.JSONEq(t,
		`{"error":true,"code":"guardrail_rejected","message":"estimated rows exceed the ceiling","details":{"stage":"guardrail","reason":"rows","request_id":"req-9"}}`,
		resultText(t, result))
}

func TestAnswerTool_MissingQuestion(t *testing.T) {
	pipeline := &fakePipeline{}
	result := callTool(t, newAnswerServer(t, pipeline), "answer_question", map[string]any{})

	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid_request")
	assert.Empty(t, pipeline.question)
}

func TestNewPipelineErrorResult_Untyped(t *testing.T) {
	result := NewPipelineErrorResult(assert.AnError)

	assert.True(t, result.IsError)
	text := resultText(t, result)
	assert.NotContains(t, text, assert.AnError.Error())
	assert.Contains(t, text, `"code":"internal"`)
}
