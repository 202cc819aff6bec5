package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/pkg/schema"
)

// --- Tool definitions ---

func readMappingsTool() mcp.Tool {
	return mcp.NewTool(mapping.ReadMappingsTool,
		mcp.WithDescription(`List all env-var mapping rows. Returns {"data": [{env_var, reference, environment_scoped, environment_key}, ...]}`),
	)
}

func addMappingTool() mcp.Tool {
	return mcp.NewTool("add_mapping",
		mcp.WithDescription("Insert one env-var mapping row into the mapping table"),
		mcp.WithString("env_var", mcp.Required(), mcp.Description("Environment variable name")),
		mcp.WithString("reference", mcp.Required(), mcp.Description("Vault reference, or a PLACEHOLDER_-prefixed stub for a secret not yet provisioned")),
		mcp.WithString("environment_scoped", mcp.Description("Set to true to scope the row to one environment (default: false)")),
		mcp.WithString("environment_key", mcp.Description("Environment the row is scoped to, e.g. production")),
	)
}

// --- Tool handlers ---

// handleReadMappings returns every mapping row in the wire shape the CLI's
// MCP source decodes.
func (s *MappingServer) handleReadMappings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.source.ListMappings(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "read_mappings failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("list mappings failed: %v", err)), nil
	}
	if records == nil {
		records = []schema.Record{}
	}
	return marshalResult(map[string]any{"data": records})
}

func (s *MappingServer) handleAddMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	writer, ok := s.source.(MappingWriter)
	if !ok {
		return mcp.NewToolResultError("mapping source is read-only"), nil
	}

	name, err := req.RequireString("env_var")
	if err != nil {
		return mcp.NewToolResultError("env_var is required"), nil
	}
	reference, err := req.RequireString("reference")
	if err != nil {
		return mcp.NewToolResultError("reference is required"), nil
	}

	rec := schema.Record{
		Name:      strings.TrimSpace(name),
		Reference: strings.TrimSpace(reference),
		EnvScoped: req.GetString("environment_scoped", "false") == "true",
		EnvKey:    strings.TrimSpace(req.GetString("environment_key", "")),
	}
	if rec.Name == "" || rec.Reference == "" {
		return mcp.NewToolResultError("env_var and reference must be non-empty"), nil
	}
	if rec.EnvScoped && rec.EnvKey == "" {
		return mcp.NewToolResultError("environment_scoped rows require environment_key"), nil
	}

	if err := writer.AddMapping(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "add_mapping failed", "var", rec.Name, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("add mapping failed: %v", err)), nil
	}
	s.logger.InfoContext(ctx, "mapping added", "var", rec.Name, "scoped", rec.EnvScoped)
	return marshalResult(map[string]any{"status": "ok", "env_var": rec.Name})
}

// marshalResult wraps v as a text tool result so any MCP client can decode
// it without structured-content support.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
