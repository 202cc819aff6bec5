// Package config loads the sync policy from layered YAML documents and the
// runtime settings from the process environment.
package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// CommittedFile is the repo-committed policy document.
	CommittedFile = "envsync.yaml"
	// LocalFile is the instance-local override, expected to be gitignored.
	LocalFile = "envsync.local.yaml"
)

// Document is the YAML shape of one policy file. The local document
// overrides the committed one key-by-key at this level (shallow merge), so
// a local file declaring `exclusions` replaces the committed `exclusions`
// without touching `default_exclusions`.
type Document struct {
	DefaultExclusions []string          `yaml:"default_exclusions"`
	Exclusions        []string          `yaml:"exclusions"`
	Inclusions        []string          `yaml:"inclusions"`
	ExpectedVariables ExpectedVariables `yaml:"expected_variables"`
}

// ExpectedVariables is the categorized inclusion form; all categories are
// flattened into the inclusion whitelist.
type ExpectedVariables struct {
	Required    []string `yaml:"required"`
	Recommended []string `yaml:"recommended"`
	Optional    []string `yaml:"optional"`
	Production  []string `yaml:"production"`
}

// Policy is the effective name policy for one run.
type Policy struct {
	Exclusions map[string]struct{}
	Inclusions map[string]struct{} // nil means "sync everything"
}

// Excluded reports whether name is excluded from preservation.
func (p Policy) Excluded(name string) bool {
	_, ok := p.Exclusions[name]
	return ok
}

// HasInclusions reports whether an inclusion whitelist is active.
func (p Policy) HasInclusions() bool {
	return p.Inclusions != nil
}

// Included reports whether name passes the inclusion whitelist. Without an
// active whitelist every name passes.
func (p Policy) Included(name string) bool {
	if p.Inclusions == nil {
		return true
	}
	_, ok := p.Inclusions[name]
	return ok
}

// LoadPolicy builds the effective policy from the repo-committed document
// and the instance-local override under repoRoot. Missing files yield empty
// defaults; a file that fails to parse or validate is skipped with a warning
// and never aborts the run.
func LoadPolicy(ctx context.Context, repoRoot string, logger *slog.Logger) Policy {
	merged := make(map[string]any)
	for _, name := range []string{CommittedFile, LocalFile} {
		doc, ok := loadDocument(ctx, filepath.Join(repoRoot, name), logger)
		if !ok {
			continue
		}
		for k, v := range doc {
			merged[k] = v
		}
	}
	return derivePolicy(decodeDocument(ctx, merged, logger))
}

// loadDocument reads one YAML policy file into a generic map. The bool
// result is false when the file is absent or unusable.
func loadDocument(ctx context.Context, path string, logger *slog.Logger) (map[string]any, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnContext(ctx, "cannot read policy document", "path", path, "error", err)
		}
		return nil, false
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.WarnContext(ctx, "malformed policy document ignored", "path", path, "error", err)
		return nil, false
	}
	if doc == nil {
		return nil, false
	}

	if err := validatePolicyDocument(doc); err != nil {
		logger.WarnContext(ctx, "invalid policy document ignored", "path", path, "error", err)
		return nil, false
	}
	return doc, true
}

// decodeDocument converts the merged generic map into a typed Document via a
// YAML round-trip. Decode failures degrade to an empty document.
func decodeDocument(ctx context.Context, merged map[string]any, logger *slog.Logger) Document {
	var doc Document
	if len(merged) == 0 {
		return doc
	}
	data, err := yaml.Marshal(merged)
	if err == nil {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		logger.WarnContext(ctx, "policy documents ignored", "error", err)
		return Document{}
	}
	return doc
}

func derivePolicy(doc Document) Policy {
	p := Policy{Exclusions: make(map[string]struct{})}
	for _, name := range doc.DefaultExclusions {
		p.Exclusions[name] = struct{}{}
	}
	for _, name := range doc.Exclusions {
		p.Exclusions[name] = struct{}{}
	}

	inclusions := make(map[string]struct{})
	for _, name := range doc.Inclusions {
		inclusions[name] = struct{}{}
	}
	for _, category := range [][]string{
		doc.ExpectedVariables.Required,
		doc.ExpectedVariables.Recommended,
		doc.ExpectedVariables.Optional,
		doc.ExpectedVariables.Production,
	} {
		for _, name := range category {
			inclusions[name] = struct{}{}
		}
	}
	if len(inclusions) > 0 {
		p.Inclusions = inclusions
	}
	return p
}
