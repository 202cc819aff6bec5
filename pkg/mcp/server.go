// Package mcp serves the env-var mapping table over the Model Context
// Protocol, so agent tooling and the envsync CLI read and edit mappings
// through one interface. Rows carry vault references, never secret values.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/pkg/schema"
)

// MappingWriter is the optional write capability of a mapping source. The
// server registers the add_mapping tool only when its source implements it.
type MappingWriter interface {
	AddMapping(ctx context.Context, rec schema.Record) error
}

// MappingServerDeps holds the dependencies for creating a MappingServer.
type MappingServerDeps struct {
	Source mapping.Source
	Logger *slog.Logger
}

// MappingServer wraps an MCP server with mapping-table tool handlers.
type MappingServer struct {
	source    mapping.Source
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMappingServer creates a MappingServer with its tools registered.
func NewMappingServer(deps MappingServerDeps) *MappingServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MappingServer{source: deps.Source, logger: logger}

	mcpSrv := server.NewMCPServer(
		"envsync-mappings",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Serves the environment-variable mapping table used by envsync. Use read_mappings to list variable-to-reference rows; mappings hold vault references, never secret values."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *MappingServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *MappingServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MappingServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: readMappingsTool(), Handler: s.handleReadMappings},
	}
	if _, ok := s.source.(MappingWriter); ok {
		tools = append(tools, server.ServerTool{Tool: addMappingTool(), Handler: s.handleAddMapping})
	}
	return tools
}
