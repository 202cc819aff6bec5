// Command envsync-mcp serves the env-var mapping table over MCP stdio.
// Point ENVSYNC_MCP_SERVER at this binary to use it as the envsync CLI's
// mapping source, or register it in an editor's MCP configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rendis/envsync/internal/config"
	"github.com/rendis/envsync/internal/logging"
	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/internal/repo"
	"github.com/rendis/envsync/pkg/mcp"
	"github.com/rendis/envsync/pkg/schema"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("envsync-mcp", flag.ExitOnError)
	dbPath := fs.String("db-path", config.Env("ENVSYNC_DB_PATH", ""), "mappings database path (default: data/mappings.db under the repo root)")
	logLevel := fs.String("log-level", config.Env("ENVSYNC_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", config.Env("ENVSYNC_LOG_JSON", false), "emit JSON logs")
	readOnly := fs.Bool("read-only", false, "serve without the add_mapping tool")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		printVersion()
		return 0
	}

	// Logs go to stderr; stdout carries the MCP stdio transport.
	logger := logging.Setup(os.Stderr, *logLevel, *logJSON)

	path := *dbPath
	if path == "" {
		root, err := repo.Discover(repo.DefaultStrategies()...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		path = filepath.Join(root, mapping.DefaultDBFile)
	}

	src, err := mapping.NewDBSource(path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer src.Close()

	if err := src.EnsureSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var source mapping.Source = src
	if *readOnly {
		source = readOnlySource{src: src}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mcp.NewMappingServer(mcp.MappingServerDeps{Source: source, Logger: logger})
	logger.InfoContext(ctx, "serving mapping table over stdio", "db", path, "read_only", *readOnly)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// readOnlySource hides the DBSource write capability so the server does not
// register add_mapping.
type readOnlySource struct {
	src *mapping.DBSource
}

func (r readOnlySource) Name() string { return r.src.Name() }

func (r readOnlySource) ListMappings(ctx context.Context) ([]schema.Record, error) {
	return r.src.ListMappings(ctx)
}

func (r readOnlySource) Close() error { return r.src.Close() }
