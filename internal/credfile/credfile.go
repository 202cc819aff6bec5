// Package credfile writes structured credential values to side files so the
// env file can reference them by path instead of inlining JSON blobs.
package credfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/envsync/pkg/schema"
)

// Dir is the side-file directory under the repo root. It is bootstrapped
// with a .gitignore so its contents can never be committed.
const Dir = ".creds"

const (
	appCredsKey = "GOOGLE_APPLICATION_CREDENTIALS"
	credsSuffix = "_CREDENTIALS"
)

// specialFilenames pins historical filenames for two long-lived keys.
var specialFilenames = map[string]string{
	"GOOGLE_APPLICATION_CREDENTIALS": "gcp-service-account.json",
	"GOOGLE_OAUTH_CREDENTIALS":       "gcp-oauth.keys.json",
}

// NeedsSideFile reports whether key's resolved value should be written to a
// side file instead of inlined. GOOGLE_APPLICATION_CREDENTIALS is always
// file-backed: a value that already looks like a path stays inline, JSON
// content goes to a file. Any other key ending in _CREDENTIALS goes to a
// file iff its value is valid JSON.
func NeedsSideFile(key, value string) bool {
	if key == appCredsKey {
		trimmed := strings.TrimSpace(value)
		if !strings.HasPrefix(trimmed, "{") &&
			(strings.HasSuffix(value, ".json") || strings.ContainsAny(value, `/\`)) {
			return false
		}
		return json.Valid([]byte(value))
	}
	if strings.HasSuffix(key, credsSuffix) {
		return json.Valid([]byte(value))
	}
	return false
}

// Filename derives the side file name for key: lower-cased, underscores to
// hyphens, ".json" appended, except for the pinned historical names.
func Filename(key string) string {
	if name, ok := specialFilenames[key]; ok {
		return name
	}
	return strings.ToLower(strings.ReplaceAll(key, "_", "-")) + ".json"
}

// WriteSideFile writes value verbatim to the side-file directory under
// repoRoot, creating the directory (and its .gitignore) on demand. It
// returns the repo-relative path for use as the env value. Content is
// written even when it is not valid JSON; some values are legitimately
// plain path strings.
func WriteSideFile(repoRoot, filename, value string) (string, error) {
	dir := filepath.Join(repoRoot, Dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeIO, "create %s directory", Dir).WithCause(err)
	}

	ignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte("*\n"), 0o644); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeIO, "write %s/.gitignore", Dir).WithCause(err)
		}
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeIO, "write side file %s", filename).WithCause(err)
	}
	return filepath.ToSlash(filepath.Join(Dir, filename)), nil
}
