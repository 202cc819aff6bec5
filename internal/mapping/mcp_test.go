package mapping

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/envsync/pkg/schema"
)

// newInProcessSource wires an MCPSource to an in-process server whose
// read_mappings tool replies with the given result.
func newInProcessSource(t *testing.T, handler server.ToolHandlerFunc) *MCPSource {
	t.Helper()

	srv := server.NewMCPServer("mappings-test", "0.0.1", server.WithToolCapabilities(false))
	srv.AddTool(mcp.NewTool(ReadMappingsTool,
		mcp.WithDescription("List env var mapping rows"),
	), handler)

	cli, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	require.NoError(t, cli.Start(ctx))

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "envsync-test", Version: "0.0.1"}
	_, err = cli.Initialize(ctx, initReq)
	require.NoError(t, err)

	return &MCPSource{client: cli, logger: testLogger()}
}

func textHandler(payload string) server.ToolHandlerFunc {
	return func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(payload), nil
	}
}

func TestMCPSourceListMappings(t *testing.T) {
	src := newInProcessSource(t, textHandler(`{"data":[
		{"env_var":"API_KEY","reference":"op://Private/api/key","environment_scoped":false},
		{"env_var":"DB_URL","reference":"op://Private/db/prod-url","environment_scoped":true,"environment_key":"production"}
	]}`))

	records, err := src.ListMappings(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, schema.Record{Name: "API_KEY", Reference: "op://Private/api/key"}, records[0])
	assert.Equal(t, schema.Record{
		Name:      "DB_URL",
		Reference: "op://Private/db/prod-url",
		EnvScoped: true,
		EnvKey:    "production",
	}, records[1])
}

func TestMCPSourceEmptyData(t *testing.T) {
	src := newInProcessSource(t, textHandler(`{"data":[]}`))

	records, err := src.ListMappings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMCPSourceToolError(t *testing.T) {
	src := newInProcessSource(t, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("mappings table not found"), nil
	})

	_, err := src.ListMappings(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeMCP))
	assert.Contains(t, err.Error(), "mappings table not found")
}

func TestMCPSourceMalformedPayload(t *testing.T) {
	src := newInProcessSource(t, textHandler(`not json at all`))

	_, err := src.ListMappings(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeMCP))
}

func TestMCPSourceName(t *testing.T) {
	src := newInProcessSource(t, textHandler(`{"data":[]}`))
	assert.Equal(t, "mcp", src.Name())
}
