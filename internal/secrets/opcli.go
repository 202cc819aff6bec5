package secrets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/envsync/internal/logging"
	"github.com/rendis/envsync/pkg/schema"
)

const (
	// DefaultOpBinary is the 1Password CLI executable name.
	DefaultOpBinary = "op"

	// whoamiTimeout bounds the session probe so a hung CLI cannot stall
	// the run before any work happens.
	whoamiTimeout = 5 * time.Second

	defaultReadTimeout = 30 * time.Second

	// maxCaptureSize caps captured stdout from the CLI.
	maxCaptureSize = 1 << 20
)

// OpCLI resolves op:// references by shelling out to the 1Password CLI.
// It never parses or republishes the CLI's stderr: a failed read surfaces
// as the reference plus a generic cause.
type OpCLI struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpCLI creates a resolver backed by the given CLI binary. Empty binary
// and non-positive timeout fall back to defaults.
func NewOpCLI(binary string, timeout time.Duration, logger *slog.Logger) *OpCLI {
	if binary == "" {
		binary = DefaultOpBinary
	}
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &OpCLI{binary: binary, timeout: timeout, logger: logger}
}

func (o *OpCLI) Scheme() string { return "op" }

// CheckSession probes authentication with `op whoami`. All CLI output is
// discarded; only the pass/fail outcome matters.
func (o *OpCLI) CheckSession(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, whoamiTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.binary, "whoami")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return schema.NewErrorf(schema.ErrCodeSession,
				"%s CLI not found; install it and run: %s signin", o.binary, o.binary).WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeSession,
			"no active %s session; run: %s signin", o.binary, o.binary).WithCause(err)
	}
	return nil
}

// Resolve reads one reference with `op read`. The CLI's stderr is drained
// and dropped so failures cannot echo secret fragments back through the
// error chain.
func (o *OpCLI) Resolve(ctx context.Context, reference string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, o.binary, "read", reference)
	cmd.Stdout = &limitedWriter{w: &stdout, limit: maxCaptureSize}
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", schema.NewErrorf(schema.ErrCodeTimeout,
				"%s read timed out after %s for %s", o.binary, o.timeout, reference).WithCause(err)
		}
		logging.LogWith(ctx, o.logger).Debug("vault CLI read failed", "reference", reference)
		return "", schema.NewErrorf(schema.ErrCodeResolution,
			"%s CLI error for %s; ensure %s is installed and you're signed in (run: %s signin)",
			o.binary, reference, o.binary, o.binary).WithCause(err)
	}

	value := strings.TrimRight(stdout.String(), "\n")
	if value == "" {
		return "", schema.NewErrorf(schema.ErrCodeResolution,
			"empty value returned for %s", reference)
	}
	return value, nil
}

// limitedWriter caps how much subprocess output is retained. It reports the
// full length so the subprocess never blocks on a closed pipe.
type limitedWriter struct {
	w     io.Writer
	limit int
	n     int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.n >= lw.limit {
		return len(p), nil
	}
	remain := lw.limit - lw.n
	if len(p) > remain {
		p = p[:remain]
	}
	written, err := lw.w.Write(p)
	lw.n += written
	if err != nil {
		return written, err
	}
	return len(p), nil
}
