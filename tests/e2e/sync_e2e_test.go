package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/envsync/internal/config"
	"github.com/rendis/envsync/internal/credfile"
	"github.com/rendis/envsync/internal/engine"
	"github.com/rendis/envsync/internal/envfile"
	"github.com/rendis/envsync/internal/mapping"
	"github.com/rendis/envsync/internal/secrets"
	"github.com/rendis/envsync/pkg/schema"
)

// --- Test harness ---

// harness wires a throwaway repo: a temp root with a seeded mapping
// database under data/, a fake vault CLI under bin/, and .env as the sync
// target. Runs go through mapping.Open in auto mode so source selection is
// exercised the same way the real binary exercises it.
type harness struct {
	t        *testing.T
	root     string
	target   string
	registry *secrets.Registry
}

func newHarness(t *testing.T, vaultValues map[string]string) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("harness fakes the vault CLI with a POSIX shell script")
	}

	root := t.TempDir()
	h := &harness{t: t, root: root, target: filepath.Join(root, ".env")}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))

	bin := filepath.Join(root, "bin", "op")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte(fakeOpScript(vaultValues)), 0o755))

	h.registry = secrets.NewRegistry("op")
	require.NoError(t, h.registry.Register(secrets.NewOpCLI(bin, 5*time.Second, testLogger())))
	return h
}

// fakeOpScript builds a stand-in vault CLI: whoami always succeeds, read
// answers from the reference table, and anything else fails like the real
// CLI. Values must not contain single quotes.
func fakeOpScript(values map[string]string) string {
	refs := make([]string, 0, len(values))
	for ref := range values {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var b strings.Builder
	b.WriteString("#!/bin/sh\ncase \"$1\" in\nwhoami) exit 0 ;;\nread)\n\tcase \"$2\" in\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "\t%q) printf '%%s' '%s' ;;\n", ref, values[ref])
	}
	b.WriteString("\t*) echo \"no item matches the reference\" >&2; exit 1 ;;\n\tesac ;;\n*) exit 2 ;;\nesac\n")
	return b.String()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (h *harness) seed(records ...schema.Record) {
	h.t.Helper()
	src, err := mapping.NewDBSource(filepath.Join(h.root, "data", "mappings.db"), testLogger())
	require.NoError(h.t, err)
	defer src.Close()

	ctx := context.Background()
	require.NoError(h.t, src.EnsureSchema(ctx))
	for _, rec := range records {
		require.NoError(h.t, src.AddMapping(ctx, rec))
	}
}

func (h *harness) run(environment string) *engine.Report {
	h.t.Helper()
	ctx := context.Background()

	src, err := mapping.Open(ctx, mapping.Options{
		Mode:     "auto",
		RepoRoot: h.root,
		EnvFile:  h.target,
	}, testLogger())
	require.NoError(h.t, err)
	defer src.Close()

	report, err := engine.NewRunner(src, h.registry, testLogger()).Run(ctx, engine.Options{
		RepoRoot:    h.root,
		TargetFile:  h.target,
		Environment: environment,
		Jobs:        4,
	})
	require.NoError(h.t, err)
	return report
}

func (h *harness) writeTarget(content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.target, []byte(content), 0o600))
}

func (h *harness) readTarget() string {
	h.t.Helper()
	data, err := os.ReadFile(h.target)
	require.NoError(h.t, err)
	return string(data)
}

// --- E2E Scenarios ---

// 1. Full sync: fresh values from the vault, local variables preserved,
// placeholder state carried through, database auto-selected as the source.
func TestSyncEndToEnd(t *testing.T) {
	h := newHarness(t, map[string]string{
		"op://Private/app/api-key": "key-123",
		"op://Private/db/url":      "postgres://dev.internal/app",
	})
	h.seed(
		schema.Record{Name: "API_KEY", Reference: "op://Private/app/api-key"},
		schema.Record{Name: "DATABASE_URL", Reference: "op://Private/db/url"},
		schema.Record{Name: "SESSION_SECRET", Reference: "PLACEHOLDER_rotate_me"},
		schema.Record{Name: "PENDING_FLAG", Reference: "PLACEHOLDER_not_provisioned"},
	)
	h.writeTarget("# local tweaks\nDEBUG=true\nSESSION_SECRET=legacy-session\n")

	report := h.run("development")

	want := strings.Join([]string{
		"# local tweaks",
		"",
		envfile.ManagedHeader,
		`API_KEY="key-123"`,
		`DATABASE_URL="postgres://dev.internal/app"`,
		"SESSION_SECRET=legacy-session",
		"",
		envfile.UnmanagedHeader,
		"DEBUG=true",
		"",
	}, "\n")
	assert.Equal(t, want, h.readTarget())

	assert.True(t, report.Written)
	assert.Equal(t, "db", report.Source)
	assert.Equal(t, "development", report.Environment)
	assert.Equal(t, []string{"API_KEY", "DATABASE_URL"}, report.Resolved)
	assert.Equal(t, []string{"SESSION_SECRET"}, report.Placeholder)
	assert.Equal(t, []string{"PENDING_FLAG"}, report.PlaceholderSkipped)
	assert.Equal(t, 1, report.UnmanagedKept)
	assert.NotEmpty(t, report.BackupPath)
}

// 2. A second run leaves the file byte-identical and each run stores the
// prior content in a timestamped backup next to the target.
func TestRerunIsIdempotentAndBacksUp(t *testing.T) {
	h := newHarness(t, map[string]string{"op://Private/app/api-key": "key-123"})
	h.seed(schema.Record{Name: "API_KEY", Reference: "op://Private/app/api-key"})
	h.writeTarget("DEBUG=true\n")

	first := h.run("development")
	firstContent := h.readTarget()

	second := h.run("development")
	assert.Equal(t, firstContent, h.readTarget())

	require.NotEmpty(t, first.BackupPath)
	backed, err := os.ReadFile(first.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG=true\n", string(backed))

	require.NotEmpty(t, second.BackupPath)
	backed, err = os.ReadFile(second.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, firstContent, string(backed))
	assert.Equal(t, filepath.Join(h.root, engine.BackupDir), filepath.Dir(second.BackupPath))
}

// 3. An environment-scoped row overrides the unscoped reference only for
// its own environment.
func TestEnvironmentScopedReference(t *testing.T) {
	values := map[string]string{
		"op://Private/db/url":    "postgres://dev.internal/app",
		"op://Production/db/url": "postgres://prod.internal/app",
	}
	rows := []schema.Record{
		{Name: "DATABASE_URL", Reference: "op://Private/db/url"},
		{Name: "DATABASE_URL", Reference: "op://Production/db/url", EnvScoped: true, EnvKey: "production"},
	}

	dev := newHarness(t, values)
	dev.seed(rows...)
	dev.run("development")
	assert.Contains(t, dev.readTarget(), `DATABASE_URL="postgres://dev.internal/app"`)

	prod := newHarness(t, values)
	prod.seed(rows...)
	prod.run("production")
	assert.Contains(t, prod.readTarget(), `DATABASE_URL="postgres://prod.internal/app"`)
}

// 4. The committed policy file removes excluded variables from the
// preserved set while other unmanaged variables survive.
func TestPolicyFileExclusions(t *testing.T) {
	h := newHarness(t, map[string]string{"op://Private/app/api-key": "key-123"})
	h.seed(schema.Record{Name: "API_KEY", Reference: "op://Private/app/api-key"})
	h.writeTarget("OLD_TOKEN=stale\nDEBUG=true\n")

	policy := "exclusions:\n  - OLD_TOKEN\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.root, config.CommittedFile), []byte(policy), 0o644))

	report := h.run("development")

	content := h.readTarget()
	assert.NotContains(t, content, "OLD_TOKEN")
	assert.Contains(t, content, "DEBUG=true")
	assert.Equal(t, []string{"OLD_TOKEN"}, report.ExcludedRemoved)
	assert.Equal(t, 1, report.UnmanagedKept)
}

// 5. Credential JSON lands in a gitignored side file and the env var points
// at the file instead of inlining the payload.
func TestCredentialSideFile(t *testing.T) {
	credJSON := `{"type": "service_account", "project_id": "demo"}`
	h := newHarness(t, map[string]string{"op://Private/gcp/service-account": credJSON})
	h.seed(schema.Record{Name: "GOOGLE_APPLICATION_CREDENTIALS", Reference: "op://Private/gcp/service-account"})

	report := h.run("development")

	payload, err := os.ReadFile(filepath.Join(h.root, credfile.Dir, "gcp-service-account.json"))
	require.NoError(t, err)
	assert.JSONEq(t, credJSON, string(payload))

	ignore, err := os.ReadFile(filepath.Join(h.root, credfile.Dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(ignore))

	rel := credfile.Dir + "/gcp-service-account.json"
	assert.Contains(t, h.readTarget(), `GOOGLE_APPLICATION_CREDENTIALS="`+rel+`"`)
	assert.Equal(t, []string{rel}, report.SideFiles)
}

// 6. A reference the vault cannot serve keeps the variable's previous
// value; the rest of the run completes normally.
func TestResolutionFailureFallsBack(t *testing.T) {
	h := newHarness(t, map[string]string{"op://Private/app/api-key": "key-123"})
	h.seed(
		schema.Record{Name: "API_KEY", Reference: "op://Private/app/api-key"},
		schema.Record{Name: "DB_PASSWORD", Reference: "op://Private/db/password"},
	)
	h.writeTarget("DB_PASSWORD=previous-secret\n")

	report := h.run("development")

	content := h.readTarget()
	assert.Contains(t, content, `API_KEY="key-123"`)
	assert.Contains(t, content, "DB_PASSWORD=previous-secret")
	assert.Equal(t, []string{"DB_PASSWORD"}, report.Fallback)
	assert.True(t, report.Written)
}
