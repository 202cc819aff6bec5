package mapping

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/envsync/pkg/schema"
)

// ReadMappingsTool is the tool a reference-table MCP server must expose.
// It takes no arguments and returns {"data": [<row>, ...]} as text content.
const ReadMappingsTool = "read_mappings"

const initTimeout = 15 * time.Second

// MCPSource reads mapping rows from a reference-table MCP server spawned
// over stdio.
type MCPSource struct {
	client *client.Client
	logger *slog.Logger
}

// NewMCPSource spawns the server described by spec and performs the MCP
// handshake. The spec's env entries are appended to the inherited
// environment.
func NewMCPSource(ctx context.Context, spec ServerSpec, logger *slog.Logger) (*MCPSource, error) {
	cli, err := client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMCP, "start mapping server %s", spec.Command).WithCause(err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "envsync", Version: "1.0.0"}
	if _, err := cli.Initialize(initCtx, initReq); err != nil {
		_ = cli.Close()
		return nil, schema.NewError(schema.ErrCodeMCP, "initialize mapping server session").WithCause(err)
	}

	logger.DebugContext(ctx, "mapping server started", "command", spec.Command)
	return &MCPSource{client: cli, logger: logger}, nil
}

func (s *MCPSource) Name() string { return "mcp" }

func (s *MCPSource) ListMappings(ctx context.Context) ([]schema.Record, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = ReadMappingsTool

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMCP, "call %s", ReadMappingsTool).WithCause(err)
	}
	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeMCP, "%s failed: %s", ReadMappingsTool, toolErrorText(result))
	}
	if len(result.Content) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeMCP, "%s returned no content", ReadMappingsTool)
	}

	text := mcp.GetTextFromContent(result.Content[0])
	var payload struct {
		Data []schema.Record `json:"data"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMCP, "decode %s payload", ReadMappingsTool).WithCause(err)
	}

	s.logger.DebugContext(ctx, "loaded mapping rows via MCP", "count", len(payload.Data))
	return payload.Data, nil
}

func (s *MCPSource) Close() error { return s.client.Close() }

func toolErrorText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "unknown error"
	}
	return mcp.GetTextFromContent(result.Content[0])
}
