// Package repo locates the repository root the sync operates in. Discovery
// is an ordered list of strategies so tests and callers can inject a fixed
// root instead of relying on global lookups.
package repo

import (
	"os"
	"path/filepath"

	"github.com/rendis/envsync/pkg/schema"
)

const maxWalkUpLevels = 10

// EnvRepoRoot overrides discovery entirely when set.
const EnvRepoRoot = "ENVSYNC_REPO_ROOT"

// ConfigMarker is the committed policy document that marks the repo root.
const ConfigMarker = "envsync.yaml"

// Strategy attempts to locate the repository root. An empty path with a nil
// error means the strategy does not apply; an error aborts discovery.
type Strategy func() (string, error)

// Discover runs strategies in order, returning the first located root.
func Discover(strategies ...Strategy) (string, error) {
	for _, s := range strategies {
		root, err := s()
		if err != nil {
			return "", err
		}
		if root != "" {
			return root, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeRepoRoot,
		"could not locate repository root (run from inside the repository or set "+EnvRepoRoot+")")
}

// DefaultStrategies is the production lookup order: explicit env override,
// then a bounded walk up from the working directory for the committed config
// document, then for a .git directory.
func DefaultStrategies() []Strategy {
	return []Strategy{
		FromEnv(EnvRepoRoot),
		WalkUpFor("", ConfigMarker),
		WalkUpFor("", ".git"),
	}
}

// FromEnv resolves the root from an environment variable. The directory must
// exist when the variable is set.
func FromEnv(key string) Strategy {
	return func() (string, error) {
		dir := os.Getenv(key)
		if dir == "" {
			return "", nil
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return "", schema.NewErrorf(schema.ErrCodeRepoRoot,
				"%s points to %q which is not a directory", key, dir)
		}
		return dir, nil
	}
}

// WalkUpFor climbs at most maxWalkUpLevels directories from start (working
// directory when empty) looking for marker.
func WalkUpFor(start, marker string) Strategy {
	return func() (string, error) {
		dir := start
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", schema.NewError(schema.ErrCodeRepoRoot,
					"cannot determine working directory").WithCause(err)
			}
			dir = wd
		}
		for range maxWalkUpLevels {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		return "", nil
	}
}
