package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

// AnswerToolDeps are the dependencies of the answer_question tool.
type AnswerToolDeps struct {
	Pipeline services.PipelineService
	Logger   *zap.Logger
}

// RegisterAnswerTool adds the answer_question tool to the MCP server.
func RegisterAnswerTool(s *server.MCPServer, deps *AnswerToolDeps) {
	tool := mcp.NewTool(
		"answer_question",
		mcp.WithDescription("Answers a natural language question about the connected database with a read-only, "+
			"size-limited query. Returns columns, rows, the applied limit and whether the rows were truncated."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer, e.g. \"show me the 5 most recent orders\""),
		),
		mcp.WithBoolean("synthesize",
			mcp.Description("Also return a short natural language summary of the rows"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_request", "question is required"), nil
		}
		synthesize, _ := getOptionalBool(req, "synthesize")

		answer, err := deps.Pipeline.Answer(ctx, question, synthesize)
		if err != nil {
			deps.Logger.Debug("answer_question failed", zap.Error(err))
			return NewPipelineErrorResult(err), nil
		}

		payload, err := json.Marshal(answer)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal answer: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

// getOptionalBool extracts an optional boolean argument from the request.
func getOptionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if val, ok := args[key].(bool); ok {
			return val, true
		}
	}
	return false, false
}
