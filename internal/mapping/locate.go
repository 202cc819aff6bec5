package mapping

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rendis/envsync/pkg/schema"
)

// EnvServer names the mapping MCP server command, e.g. "uv run server.py".
const EnvServer = "ENVSYNC_MCP_SERVER"

// DefaultDBFile is the repo-relative location of the local mapping database.
const DefaultDBFile = "data/mappings.db"

// defaultServerScript is the repo-relative fallback server location.
const defaultServerScript = "mcp/mappings/server.py"

// ServerSpec describes how to launch the mapping MCP server.
type ServerSpec struct {
	Command string
	Args    []string
	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string
}

// LocateStrategy produces a server spec. An empty Command means the
// strategy has no answer and the next one is tried.
type LocateStrategy func() (ServerSpec, error)

// LocateServer tries each strategy in order and returns the first hit.
func LocateServer(strategies ...LocateStrategy) (ServerSpec, error) {
	for _, strategy := range strategies {
		spec, err := strategy()
		if err != nil {
			return ServerSpec{}, err
		}
		if spec.Command != "" {
			return spec, nil
		}
	}
	return ServerSpec{}, schema.NewError(schema.ErrCodeMappingSource,
		"no mapping MCP server configured; set "+EnvServer+" or add a mappings entry to ~/.cursor/mcp.json")
}

// DefaultLocateStrategies is the standard chain: explicit env var, the
// user's Cursor MCP registry, then the conventional in-repo script.
func DefaultLocateStrategies(repoRoot string) []LocateStrategy {
	return []LocateStrategy{
		FromEnvCommand,
		FromCursorConfig(""),
		FromRepoScript(repoRoot),
	}
}

// FromEnvCommand reads EnvServer as a whitespace-separated command line.
func FromEnvCommand() (ServerSpec, error) {
	raw := strings.TrimSpace(os.Getenv(EnvServer))
	if raw == "" {
		return ServerSpec{}, nil
	}
	parts := strings.Fields(raw)
	return ServerSpec{Command: parts[0], Args: parts[1:]}, nil
}

// FromCursorConfig looks for a server whose name contains "mapping" in the
// user's Cursor MCP registry. Empty home means the current user's home.
// A missing or unreadable registry is a miss, never an error.
func FromCursorConfig(home string) LocateStrategy {
	return func() (ServerSpec, error) {
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return ServerSpec{}, nil
			}
		}

		data, err := os.ReadFile(filepath.Join(home, ".cursor", "mcp.json"))
		if err != nil {
			return ServerSpec{}, nil
		}
		var doc struct {
			MCPServers map[string]struct {
				Command string            `json:"command"`
				Args    []string          `json:"args"`
				Env     map[string]string `json:"env"`
			} `json:"mcpServers"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return ServerSpec{}, nil
		}

		names := make([]string, 0, len(doc.MCPServers))
		for name := range doc.MCPServers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if !strings.Contains(strings.ToLower(name), "mapping") {
				continue
			}
			srv := doc.MCPServers[name]
			spec := ServerSpec{Command: srv.Command, Args: srv.Args}
			envKeys := make([]string, 0, len(srv.Env))
			for k := range srv.Env {
				envKeys = append(envKeys, k)
			}
			sort.Strings(envKeys)
			for _, k := range envKeys {
				spec.Env = append(spec.Env, k+"="+srv.Env[k])
			}
			return spec, nil
		}
		return ServerSpec{}, nil
	}
}

// FromRepoScript falls back to the conventional in-repo server script.
func FromRepoScript(repoRoot string) LocateStrategy {
	return func() (ServerSpec, error) {
		path := filepath.Join(repoRoot, filepath.FromSlash(defaultServerScript))
		if _, err := os.Stat(path); err != nil {
			return ServerSpec{}, nil
		}
		return ServerSpec{Command: "python3", Args: []string{path}}, nil
	}
}

// SubprocessEnv builds the extra environment for the mapping server: the
// target env file's entries, so the server sees the same configuration the
// developer does, plus a DATA_DIR default pointing into the repo when
// nothing else sets one.
func SubprocessEnv(repoRoot, envFile string) []string {
	var extra []string

	vars, err := godotenv.Read(envFile)
	if err != nil {
		vars = nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		extra = append(extra, k+"="+vars[k])
	}

	if os.Getenv("DATA_DIR") == "" {
		if _, ok := vars["DATA_DIR"]; !ok {
			extra = append(extra, "DATA_DIR="+filepath.Join(repoRoot, "data"))
		}
	}
	return extra
}

// Options configures source selection for Open.
type Options struct {
	// Mode is "auto", "db", or "mcp". Auto prefers a local database when
	// one exists and falls back to the MCP server.
	Mode string
	// RepoRoot anchors the default database path and server script.
	RepoRoot string
	// DBPath overrides the default database location when non-empty.
	DBPath string
	// EnvFile is the sync target, injected into the server's environment.
	EnvFile string
}

// Open selects and opens the mapping source for a run.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Source, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(opts.RepoRoot, filepath.FromSlash(DefaultDBFile))
	}

	switch opts.Mode {
	case "db":
		return NewDBSource(dbPath, logger)
	case "mcp":
		return openMCP(ctx, opts, logger)
	default:
		if _, err := os.Stat(dbPath); err == nil {
			logger.DebugContext(ctx, "using local mapping database", "path", dbPath)
			return NewDBSource(dbPath, logger)
		}
		return openMCP(ctx, opts, logger)
	}
}

func openMCP(ctx context.Context, opts Options, logger *slog.Logger) (Source, error) {
	spec, err := LocateServer(DefaultLocateStrategies(opts.RepoRoot)...)
	if err != nil {
		return nil, err
	}
	spec.Env = append(spec.Env, SubprocessEnv(opts.RepoRoot, opts.EnvFile)...)
	return NewMCPSource(ctx, spec, logger)
}
