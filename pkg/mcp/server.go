// Package mcp exposes the question pipeline over the Model Context Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Instructions is sent to clients in the initialize response.
const Instructions = `Ask questions about the connected PostgreSQL database in plain language with the answer_question tool. ` +
	`Every generated statement is validated as a single read-only SELECT and checked against cost and row ceilings before it runs. ` +
	`Use the health tool to see which schema snapshot answers are based on.`

// Server is the MCP endpoint of the pipeline. The tool set is fixed at
// startup, so list-changed notifications are not advertised, and a panicking
// tool handler becomes a tool error instead of killing the session.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer builds the server. opts are appended after the defaults, so
// callers may add hooks or override them.
func NewServer(name, version string, logger *zap.Logger, opts ...server.ServerOption) *Server {
	defaults := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithInstructions(Instructions),
		server.WithRecovery(),
	}
	return &Server{
		mcp:    server.NewMCPServer(name, version, append(defaults, opts...)...),
		logger: logger.Named("mcp"),
	}
}

func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer serves the MCP endpoint without sessions: each
// question is answered within one request. Routing to /mcp is done by the
// HTTP mux.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.logger.Debug("Registering MCP tool", zap.String("tool", tool.Name))
	s.mcp.AddTool(tool, handler)
}
