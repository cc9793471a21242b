package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// MCPPath is where MCPServer handlers are usually mounted.
const MCPPath = "/mcp"

// MCPServer publishes a registry's tools over MCP streamable HTTP, so other
// agents can reach them through an MCPProvider.
type MCPServer struct {
	registry *Registry
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
	logger   zerolog.Logger
}

// NewMCPServer exposes every tool registered in reg at the time of the call.
func NewMCPServer(reg *Registry, version string, logger zerolog.Logger) (*MCPServer, error) {
	s := &MCPServer{
		registry: reg,
		logger:   logger,
		mcp: server.NewMCPServer(
			reg.Name(),
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	for _, t := range reg.Tools() {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema for %s: %w", t.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, raw), s.handle)
	}

	s.http = server.NewStreamableHTTPServer(s.mcp)

	logger.Info().Int("tools", len(reg.Tools())).Str("server", reg.Name()).Msg("MCP server ready")

	return s, nil
}

// Handler serves the MCP endpoint.
func (s *MCPServer) Handler() http.Handler {
	return s.http
}

// ToolNames lists the published tools.
func (s *MCPServer) ToolNames() []string {
	tools := s.registry.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Shutdown closes open MCP sessions.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handle runs a call through the registry. Tool failures are reported to
// the client as error results, not protocol errors.
func (s *MCPServer) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.registry.Call(ctx, req.Params.Name, req.GetArguments())
	if err != nil {
		s.logger.Debug().Err(err).Str("tool", req.Params.Name).Msg("MCP tool call failed")
		return mcp.NewToolResultError(err.Error()), nil
	}

	if text, ok := result.(string); ok {
		return mcp.NewToolResultText(text), nil
	}

	b, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unencodable result: %v", err)), nil
	}
	res := mcp.NewToolResultText(string(b))
	if obj, ok := result.(map[string]any); ok {
		res.StructuredContent = obj
	}
	return res, nil
}
