package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SnapshotLoader exposes the active schema snapshot.
type SnapshotLoader interface {
	Load() *models.SchemaSnapshot
}

type healthResult struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	SnapshotVersion string `json:"snapshot_version,omitempty"`
	Tables          int    `json:"tables"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool reports "degraded" until a schema snapshot is loaded.
func RegisterHealthTool(s *server.MCPServer, version string, snapshots SnapshotLoader) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and the active schema snapshot"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "degraded", Version: version}
		if snapshot := snapshots.Load(); snapshot != nil {
			res.Status = "ok"
			res.SnapshotVersion = snapshot.Version
			res.Tables = len(snapshot.Tables)
		}

		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}
