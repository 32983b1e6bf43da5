package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/auth"
)

// maxParamSize caps string arguments written to the audit log.
const maxParamSize = 10240

// sqlStringLiteralPattern matches SQL string literals, including '' escapes.
var sqlStringLiteralPattern = regexp.MustCompile(`'(?:[^']*(?:'')?)*[^']*'`)

var sensitiveParamFragments = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

// ToolAuditor records every MCP tool call to the audit logger: the tool, the
// calling principal, the sanitized arguments, the duration and whether the
// call ended in a tool error.
type ToolAuditor struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
	now        func() time.Time
}

// NewToolAuditor creates a ToolAuditor.
func NewToolAuditor(logger *zap.Logger) *ToolAuditor {
	return &ToolAuditor{
		logger: logger.Named("mcp-audit"),
		now:    time.Now,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolAuditor) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolAuditor) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, a.now())
}

func (a *ToolAuditor) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	fields := a.baseFields(ctx, id, req)
	isError := result != nil && result.IsError
	fields = append(fields, zap.Bool("is_error", isError))

	if isError {
		a.logger.Info("MCP tool call rejected", fields...)
		return
	}
	a.logger.Info("MCP tool call", fields...)
}

func (a *ToolAuditor) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	fields := append(a.baseFields(ctx, id, req), zap.Error(err))
	a.logger.Warn("MCP tool call failed", fields...)
}

func (a *ToolAuditor) baseFields(ctx context.Context, id any, req *mcplib.CallToolRequest) []zap.Field {
	duration := time.Duration(0)
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		duration = a.now().Sub(v.(time.Time))
	}

	principal := auth.GetPrincipalFromContext(ctx)
	if principal == "" {
		principal = "anonymous"
	}

	return []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.String("principal", principal),
		zap.Any("arguments", sanitizeParams(req.Params.Arguments)),
		zap.Duration("duration", duration),
	}
}

// sanitizeParams prepares tool arguments for the audit log. Sensitive keys are
// hashed, long strings truncated, and SQL string literals redacted.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveParam(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return sanitizeStringParam(key, val)
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

func sanitizeStringParam(key string, val string) string {
	if len(val) > maxParamSize {
		val = val[:maxParamSize] + "...[truncated]"
	}
	if isSQLParam(key) {
		val = sqlStringLiteralPattern.ReplaceAllString(val, "'***'")
	}
	return val
}

func isSensitiveParam(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range sensitiveParamFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// isSQLParam returns true if a parameter key likely contains SQL.
func isSQLParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql") || strings.HasSuffix(lower, "_query")
}

// hashSensitiveValue returns a SHA-256 prefix so audit entries can be
// correlated without storing the value.
func hashSensitiveValue(value any) string {
	str, ok := value.(string)
	if !ok {
		str = fmt.Sprintf("%v", value)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}
