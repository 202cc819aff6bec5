package engine

import (
	"context"
	"log/slog"
	"sort"
)

// Report summarizes a sync run. It carries variable names, counts, and file
// paths only; secret values never appear in it.
type Report struct {
	Environment string
	Source      string

	// Resolved holds variables freshly written from the vault.
	Resolved []string
	// Fallback holds variables that kept their previous value after a
	// resolution failure.
	Fallback []string
	// Omitted holds variables whose resolution failed with no previous
	// value to fall back to.
	Omitted []string
	// Placeholder holds placeholder-mapped variables whose previous value
	// was preserved.
	Placeholder []string
	// PlaceholderSkipped holds placeholder-mapped variables with no
	// previous value to preserve.
	PlaceholderSkipped []string
	// InclusionDropped holds mapped variables removed by the inclusion
	// allowlist.
	InclusionDropped []string
	// ExcludedRemoved holds previously-existing variables deleted by the
	// exclusion policy.
	ExcludedRemoved []string
	// UnmanagedKept counts preserved variables outside the mapping table.
	UnmanagedKept int
	// SideFiles holds repo-relative credential file paths written this run.
	SideFiles []string

	// BackupPath is empty when the target did not exist before the run.
	BackupPath string
	// Written is false when the run finished early without touching the
	// target (empty mapping, empty inclusion result).
	Written bool
}

func (rep *Report) normalize() {
	sort.Strings(rep.Resolved)
	sort.Strings(rep.Fallback)
	sort.Strings(rep.Omitted)
	sort.Strings(rep.Placeholder)
	sort.Strings(rep.PlaceholderSkipped)
	sort.Strings(rep.InclusionDropped)
	sort.Strings(rep.ExcludedRemoved)
	sort.Strings(rep.SideFiles)
}

// Log emits the end-of-run summary. Warnings carry the variable names a
// developer needs to follow up on, never values.
func (rep *Report) Log(ctx context.Context, logger *slog.Logger) {
	logger.InfoContext(ctx, "sync complete",
		"environment", rep.Environment,
		"source", rep.Source,
		"updated", len(rep.Resolved),
		"preserved_unmanaged", rep.UnmanagedKept,
	)
	if rep.BackupPath != "" {
		logger.InfoContext(ctx, "previous file backed up", "path", rep.BackupPath)
	}
	if len(rep.SideFiles) > 0 {
		logger.InfoContext(ctx, "credential files written", "files", rep.SideFiles)
	}
	if len(rep.Placeholder) > 0 {
		logger.InfoContext(ctx, "placeholder variables preserved", "vars", rep.Placeholder)
	}
	if len(rep.Fallback) > 0 {
		logger.WarnContext(ctx, "variables kept previous values after resolution failures", "vars", rep.Fallback)
	}
	if len(rep.Omitted) > 0 {
		logger.WarnContext(ctx, "variables omitted: resolution failed with no previous value", "vars", rep.Omitted)
	}
	if len(rep.PlaceholderSkipped) > 0 {
		logger.WarnContext(ctx, "placeholder variables skipped: no previous value to preserve",
			"vars", rep.PlaceholderSkipped,
			"hint", "replace the PLACEHOLDER_ reference in the mapping table with a real vault reference")
	}
	if len(rep.ExcludedRemoved) > 0 {
		logger.WarnContext(ctx, "excluded variables removed", "vars", rep.ExcludedRemoved)
	}
}
