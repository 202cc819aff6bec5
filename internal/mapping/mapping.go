// Package mapping loads env-var to vault-reference rows from a backing
// source (embedded libSQL database or a reference-table MCP server) and
// derives the per-environment table a sync run works from.
package mapping

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/rendis/envsync/pkg/schema"
)

// Source lists raw mapping rows from a backing store.
type Source interface {
	// Name identifies the source in logs ("db" or "mcp").
	Name() string
	ListMappings(ctx context.Context) ([]schema.Record, error)
	Close() error
}

// Table is the environment-resolved view of the mapping rows: one vault
// reference per variable name.
type Table struct {
	// Refs maps variable name to its vault reference.
	Refs map[string]string
	// Scoped holds the names whose reference came from a row scoped to the
	// active environment.
	Scoped map[string]struct{}
}

// Names returns the mapped variable names in lexicographic order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t.Refs))
	for name := range t.Refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty reports whether the table maps no variables.
func (t Table) IsEmpty() bool { return len(t.Refs) == 0 }

// Derive builds the table for one environment from raw rows, preserving row
// order semantics: a row scoped to the environment always overwrites, an
// unscoped row only fills a name not set yet, and rows scoped to other
// environments are ignored. Environment matching is case-insensitive. Rows
// with an empty name or reference are dropped.
func Derive(records []schema.Record, environment string, logger *slog.Logger) Table {
	refs := make(map[string]string, len(records))
	scoped := make(map[string]struct{})

	dropped := 0
	for _, rec := range records {
		if rec.Name == "" || rec.Reference == "" {
			dropped++
			continue
		}
		if rec.EnvScoped {
			if rec.EnvKey != "" && strings.EqualFold(rec.EnvKey, environment) {
				refs[rec.Name] = rec.Reference
				scoped[rec.Name] = struct{}{}
				logger.Debug("using environment-scoped reference", "var", rec.Name, "environment", environment)
			}
			continue
		}
		if _, exists := refs[rec.Name]; !exists {
			refs[rec.Name] = rec.Reference
		}
	}
	if dropped > 0 {
		logger.Warn("dropped mapping rows with empty name or reference", "count", dropped)
	}
	logger.Debug("derived mapping table", "environment", environment, "vars", len(refs))

	return Table{Refs: refs, Scoped: scoped}
}
