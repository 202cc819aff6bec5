// Package engine orchestrates a sync run: derive the environment's mapping
// table, apply policy, resolve references, and rewrite the target env file.
package engine

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rendis/envsync/internal/config"
	"github.com/rendis/envsync/internal/credfile"
	"github.com/rendis/envsync/internal/envfile"
	"github.com/rendis/envsync/internal/logging"
	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/internal/secrets"
	"github.com/rendis/envsync/pkg/schema"
)

// Options configures a sync run.
type Options struct {
	// RepoRoot anchors policy files and the credential side-file directory.
	RepoRoot string
	// TargetFile is the env file to rewrite.
	TargetFile string
	// Environment selects environment-scoped mapping rows.
	Environment string
	// Jobs caps concurrent reference resolutions.
	Jobs int
}

// Runner executes vault-to-env sync runs.
type Runner struct {
	source   mapping.Source
	registry *secrets.Registry
	logger   *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(source mapping.Source, registry *secrets.Registry, logger *slog.Logger) *Runner {
	return &Runner{source: source, registry: registry, logger: logger}
}

// Run performs one sync. Fatal conditions (mapping source, session gate,
// file IO) return an error before the target is replaced; per-variable
// resolution failures degrade to preserved values or omissions and land in
// the report instead. On error the report is partial but never nil, so
// callers can still surface BackupPath when a backup was taken before the
// failure.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{Environment: opts.Environment, Source: r.source.Name()}

	records, err := r.source.ListMappings(ctx)
	if err != nil {
		return report, err
	}
	table := mapping.Derive(records, opts.Environment, logging.LogWith(ctx, r.logger))
	if table.IsEmpty() {
		r.logger.WarnContext(ctx, "no mappings for environment; nothing to sync",
			"environment", opts.Environment)
		return report, nil
	}

	// The pre-inclusion name set decides preservation below: a mapped name
	// dropped by the allowlist is still managed, so it is never carried
	// over as an unmanaged variable.
	mappedNames := table.Names()
	managedSet := make(map[string]struct{}, len(mappedNames))
	for _, name := range mappedNames {
		managedSet[name] = struct{}{}
	}

	policy := config.LoadPolicy(ctx, opts.RepoRoot, r.logger)
	if policy.HasInclusions() {
		for _, name := range mappedNames {
			if policy.Included(name) {
				continue
			}
			delete(table.Refs, name)
			delete(table.Scoped, name)
			report.InclusionDropped = append(report.InclusionDropped, name)
			r.logger.DebugContext(ctx, "variable not in inclusion list", "var", name)
		}
		if len(report.InclusionDropped) > 0 {
			r.logger.InfoContext(ctx, "inclusion filter applied",
				"kept", len(table.Refs), "dropped", len(report.InclusionDropped))
		}
		if table.IsEmpty() {
			r.logger.WarnContext(ctx, "inclusion filter removed every mapped variable; nothing to sync",
				"available", mappedNames)
			report.normalize()
			return report, nil
		}
	}

	existing, err := envfile.Load(opts.TargetFile)
	if err != nil {
		return report, err
	}

	// Session gate: only the backends this run will actually call. A table
	// of pure placeholders needs no vault session at all.
	var sessionRefs []string
	for _, name := range table.Names() {
		if ref := table.Refs[name]; !strings.HasPrefix(ref, schema.PlaceholderPrefix) {
			sessionRefs = append(sessionRefs, ref)
		}
	}
	if err := r.registry.CheckSessions(ctx, sessionRefs); err != nil {
		return report, err
	}

	backupPath, err := Backup(opts.TargetFile)
	if err != nil {
		return report, err
	}
	report.BackupPath = backupPath

	finals, err := r.resolveManaged(ctx, table, existing.Vars, opts, report)
	if err != nil {
		return report, err
	}

	for _, name := range envfile.SortedKeys(existing.Vars) {
		if _, isManaged := managedSet[name]; isManaged {
			continue
		}
		if policy.Excluded(name) {
			report.ExcludedRemoved = append(report.ExcludedRemoved, name)
			r.logger.WarnContext(ctx, "removing excluded variable", "var", name)
			continue
		}
		finals = append(finals, schema.Resolved{
			Key:        name,
			Value:      existing.Vars[name],
			Provenance: schema.ProvenanceUnmanaged,
		})
	}

	managed := make(map[string]string)
	unmanaged := make(map[string]string)
	for _, v := range finals {
		if v.Provenance.Managed() {
			managed[v.Key] = v.Value
		} else {
			unmanaged[v.Key] = v.Value
		}
		switch v.Provenance {
		case schema.ProvenanceResolved:
			report.Resolved = append(report.Resolved, v.Key)
		case schema.ProvenanceFallback:
			report.Fallback = append(report.Fallback, v.Key)
		case schema.ProvenancePlaceholder:
			report.Placeholder = append(report.Placeholder, v.Key)
		case schema.ProvenanceUnmanaged:
			report.UnmanagedKept++
		}
	}

	content := envfile.Render(existing.Leading, managed, unmanaged)
	if err := os.WriteFile(opts.TargetFile, []byte(content), 0o600); err != nil {
		return report, schema.NewError(schema.ErrCodeIO, "write target env file").WithCause(err)
	}
	report.Written = true

	report.normalize()
	report.Log(ctx, r.logger)
	return report, nil
}

// resolveManaged resolves every non-placeholder reference through the
// bounded pool and returns the managed outcomes. Placeholder references are
// settled synchronously first so the pool only ever runs real lookups.
func (r *Runner) resolveManaged(ctx context.Context, table mapping.Table, existing map[string]string, opts Options, report *Report) ([]schema.Resolved, error) {
	var finals []schema.Resolved

	var resolvable []string
	for _, name := range table.Names() {
		ref := table.Refs[name]
		if !strings.HasPrefix(ref, schema.PlaceholderPrefix) {
			resolvable = append(resolvable, name)
			continue
		}
		kctx := logging.WithVarName(ctx, name)
		if value, ok := existing[name]; ok {
			finals = append(finals, schema.Resolved{Key: name, Value: value, Provenance: schema.ProvenancePlaceholder})
			r.logger.InfoContext(kctx, "placeholder reference; preserving existing value", "var", name)
		} else {
			report.PlaceholderSkipped = append(report.PlaceholderSkipped, name)
			r.logger.WarnContext(kctx, "placeholder reference with no existing value; skipping", "var", name)
		}
	}

	var (
		mu       sync.Mutex
		fatalErr error
	)

	pool := NewWorkerPool(opts.Jobs)
	defer pool.Shutdown()

	for _, name := range resolvable {
		ref := table.Refs[name]
		kctx := logging.WithVarName(ctx, name)

		submitErr := pool.Submit(kctx, func(ctx context.Context) error {
			value, err := r.registry.Resolve(ctx, ref)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if prev, ok := existing[name]; ok {
					finals = append(finals, schema.Resolved{Key: name, Value: prev, Provenance: schema.ProvenanceFallback})
					r.logger.WarnContext(ctx, "resolution failed; keeping existing value", "var", name, "error", err)
				} else {
					report.Omitted = append(report.Omitted, name)
					r.logger.WarnContext(ctx, "resolution failed; omitting variable", "var", name, "error", err)
				}
				return err
			}

			if credfile.NeedsSideFile(name, value) {
				relPath, werr := credfile.WriteSideFile(opts.RepoRoot, credfile.Filename(name), value)
				if werr != nil {
					if fatalErr == nil {
						fatalErr = werr
					}
					return werr
				}
				r.logger.InfoContext(ctx, "credential side file written", "var", name, "path", relPath)
				report.SideFiles = append(report.SideFiles, relPath)
				value = relPath
			}

			finals = append(finals, schema.Resolved{Key: name, Value: `"` + value + `"`, Provenance: schema.ProvenanceResolved})
			r.logger.DebugContext(ctx, "resolved", "var", name)
			return nil
		})
		if submitErr != nil {
			pool.Wait()
			return nil, submitErr
		}
	}

	pool.Wait()

	if m := pool.Metrics(); m.Failed > 0 || m.Panics > 0 {
		r.logger.DebugContext(ctx, "resolution pool drained",
			"completed", m.Completed, "failed", m.Failed, "panics", m.Panics)
	}
	if fatalErr != nil {
		return nil, fatalErr
	}
	return finals, nil
}
