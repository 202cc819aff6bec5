package secrets

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/envsync/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// writeFakeOp writes a shell script standing in for the 1Password CLI and
// returns its path.
func writeFakeOp(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "op")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestOpCLIResolveTrimsTrailingNewlines(t *testing.T) {
	bin := writeFakeOp(t, `printf 'secret-value\n\n'`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	value, err := cli.Resolve(context.Background(), "op://Private/item/field")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", value)
}

func TestOpCLIResolvePassesReferenceArg(t *testing.T) {
	bin := writeFakeOp(t, `[ "$1" = "read" ] || exit 2
printf 'got:%s' "$2"`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	value, err := cli.Resolve(context.Background(), "op://Private/db/password")
	require.NoError(t, err)
	assert.Equal(t, "got:op://Private/db/password", value)
}

func TestOpCLIResolveEmptyValue(t *testing.T) {
	bin := writeFakeOp(t, `exit 0`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	_, err := cli.Resolve(context.Background(), "op://Private/item/field")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeResolution))
	assert.Contains(t, err.Error(), "empty value")
}

func TestOpCLIResolveFailureNeverEchoesOutput(t *testing.T) {
	// The fake CLI leaks a sentinel on both streams before failing. The
	// returned error must name the reference but never the sentinel.
	bin := writeFakeOp(t, `echo 'LEAKED-STDOUT-SENTINEL'
echo 'LEAKED-STDERR-SENTINEL' >&2
exit 1`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	_, err := cli.Resolve(context.Background(), "op://Private/item/field")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeResolution))
	assert.Contains(t, err.Error(), "op://Private/item/field")
	assert.Contains(t, err.Error(), "signin")
	assert.NotContains(t, err.Error(), "LEAKED-STDOUT-SENTINEL")
	assert.NotContains(t, err.Error(), "LEAKED-STDERR-SENTINEL")
}

func TestOpCLIResolveTimeout(t *testing.T) {
	bin := writeFakeOp(t, `sleep 5`)
	cli := NewOpCLI(bin, 100*time.Millisecond, testLogger())

	start := time.Now()
	_, err := cli.Resolve(context.Background(), "op://Private/item/field")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeTimeout))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestOpCLICheckSessionActive(t *testing.T) {
	bin := writeFakeOp(t, `[ "$1" = "whoami" ] || exit 2
exit 0`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	require.NoError(t, cli.CheckSession(context.Background()))
}

func TestOpCLICheckSessionInactive(t *testing.T) {
	bin := writeFakeOp(t, `echo 'ACCOUNT-DETAILS-SENTINEL' >&2
exit 1`)
	cli := NewOpCLI(bin, time.Second, testLogger())

	err := cli.CheckSession(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSession))
	assert.Contains(t, err.Error(), "signin")
	assert.NotContains(t, err.Error(), "ACCOUNT-DETAILS-SENTINEL")
}

func TestOpCLICheckSessionBinaryNotFound(t *testing.T) {
	cli := NewOpCLI("envsync-test-no-such-binary", time.Second, testLogger())

	err := cli.CheckSession(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSession))
	assert.Contains(t, err.Error(), "not found")
}

func TestOpCLIDefaults(t *testing.T) {
	cli := NewOpCLI("", 0, testLogger())
	assert.Equal(t, DefaultOpBinary, cli.binary)
	assert.Equal(t, defaultReadTimeout, cli.timeout)
	assert.Equal(t, "op", cli.Scheme())
}

func TestLimitedWriterCapsRetention(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	n, err := lw.Write([]byte(strings.Repeat("a", 25)))
	require.NoError(t, err)
	assert.Equal(t, 25, n, "must report full length so the pipe never stalls")
	assert.Equal(t, 10, buf.Len())

	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 10, buf.Len())
}
