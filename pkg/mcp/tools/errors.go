// Package tools registers the pipeline's MCP tools.
package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Pipeline failures are returned as tool results rather than protocol errors
// so the calling model can read them and rephrase its question.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// pipelineErrorDetails is the Details payload of a pipeline failure.
type pipelineErrorDetails struct {
	Stage     apperrors.Stage `json:"stage"`
	Reason    string          `json:"reason,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewPipelineErrorResult converts a pipeline failure into an error result.
// The code is the error kind; internal errors keep their generic summary.
func NewPipelineErrorResult(err error) *mcp.CallToolResult {
	var perr *apperrors.PipelineError
	if !errors.As(err, &perr) {
		perr = apperrors.AtStage(apperrors.StageRequest, "", err)
	}
	return NewErrorResultWithDetails(string(perr.Kind), perr.Summary, pipelineErrorDetails{
		Stage:     perr.Stage,
		Reason:    perr.Reason,
		RequestID: perr.RequestID,
	})
}
