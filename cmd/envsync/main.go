// Command envsync syncs environment variables from a secret vault into a
// local .env file. Variable-to-reference mappings come from a local libSQL
// database or an MCP mapping server; secret values are fetched per variable
// and never pass through the mapping layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/rendis/envsync/internal/config"
	"github.com/rendis/envsync/internal/engine"
	"github.com/rendis/envsync/internal/logging"
	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/internal/repo"
	"github.com/rendis/envsync/internal/secrets"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	settings := config.FromEnv()

	fs := flag.NewFlagSet("envsync", flag.ExitOnError)
	environment := fs.String("environment", settings.Environment, "deployment environment for scoped mappings")
	source := fs.String("source", settings.Source, "mapping source: auto, db, or mcp")
	jobs := fs.Int("jobs", settings.Jobs, "parallel secret resolutions")
	logLevel := fs.String("log-level", settings.LogLevel, "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", settings.LogJSON, "emit JSON logs")
	opBinary := fs.String("op-bin", settings.OpBinary, "1Password CLI binary name or path")
	dbPath := fs.String("db-path", settings.DBPath, "mappings database path (default: data/mappings.db under the repo root)")
	timeout := fs.Duration("timeout", settings.Timeout, "per-secret resolution timeout")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		printVersion()
		return 0
	}

	logger := logging.Setup(os.Stderr, *logLevel, *logJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, uuid.NewString())

	root, err := repo.Discover(repo.DefaultStrategies()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Repository root: %s\n", root)

	// Positional argument overrides the default target, matching
	// `envsync [path/to/.env]`.
	target := filepath.Join(root, ".env")
	if arg := fs.Arg(0); arg != "" {
		target = expandUser(arg)
	}

	src, err := mapping.Open(ctx, mapping.Options{
		Mode:     *source,
		RepoRoot: root,
		DBPath:   *dbPath,
		EnvFile:  target,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer src.Close()
	ctx = logging.WithSource(ctx, src.Name())

	registry := secrets.NewRegistry("op")
	if err := registry.Register(secrets.NewOpCLI(*opBinary, *timeout, logger)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	vault, err := secrets.NewVaultKV(logger)
	if err == nil {
		err = registry.Register(vault)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	runner := engine.NewRunner(src, registry, logger)
	report, err := runner.Run(ctx, engine.Options{
		RepoRoot:    root,
		TargetFile:  target,
		Environment: strings.ToLower(*environment),
		Jobs:        *jobs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		if report != nil && report.BackupPath != "" {
			fmt.Fprintf(os.Stderr, "You can restore from backup: %s\n", report.BackupPath)
		}
		return 1
	}

	if !report.Written {
		fmt.Println("Nothing to sync.")
		return 0
	}
	fmt.Printf("Sync completed: %d variable(s) synced, %d preserved, target %s\n",
		len(report.Resolved)+len(report.Fallback)+len(report.Placeholder),
		report.UnmanagedKept, target)
	return 0
}

// expandUser resolves a leading ~ to the current user's home directory.
func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
