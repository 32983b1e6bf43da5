package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewServer(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	require.NotNil(t, s)
	require.NotNil(t, s.mcp)
	require.NotNil(t, s.logger)
	assert.Same(t, s.mcp, s.MCP())
}

func TestServer_RegisterTool(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	tool := mcp.NewTool("test-tool", mcp.WithDescription("A test tool"))
	handlerCalled := false
	s.RegisterTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		handlerCalled = true
		return mcp.NewToolResultText("success"), nil
	})
	assert.False(t, handlerCalled, "handler should not be called during registration")

	result := s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))
	require.Len(t, response.Result.Tools, 1)
	assert.Equal(t, "test-tool", response.Result.Tools[0].Name)
}

func TestServer_WithHooks(t *testing.T) {
	called := false
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(context.Context, any, *mcp.CallToolRequest) { called = true })

	s := NewServer("test-server", "1.0.0", zap.NewNop(), server.WithHooks(hooks))
	s.RegisterTool(mcp.NewTool("noop"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	s.MCP().HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"noop","arguments":{}}}`))
	assert.True(t, called)
}

func TestServer_NewStreamableHTTPServer(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())
	assert.NotNil(t, s.NewStreamableHTTPServer())
}

func TestServer_Initialize(t *testing.T) {
	s := NewServer("ekaya-query", "1.2.3", zap.NewNop())

	result := s.MCP().HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","method":"initialize","id":1,"params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`))
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Instructions string `json:"instructions"`
			ServerInfo   struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
			Capabilities struct {
				Tools *struct {
					ListChanged bool `json:"listChanged"`
				} `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))
	assert.Equal(t, Instructions, response.Result.Instructions)
	assert.Equal(t, "ekaya-query", response.Result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", response.Result.ServerInfo.Version)
	require.NotNil(t, response.Result.Capabilities.Tools)
	assert.False(t, response.Result.Capabilities.Tools.ListChanged)
}

func TestServer_PanickingToolIsRecovered(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())
	s.RegisterTool(mcp.NewTool("boom"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("boom")
	})

	var result any
	require.NotPanics(t, func() {
		result = s.MCP().HandleMessage(context.Background(),
			[]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"boom","arguments":{}}}`))
	})
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "panic")
}
