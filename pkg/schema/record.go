package schema

import "strings"

// PlaceholderPrefix marks a reference as "not yet configured". References
// carrying it are inert: they are never passed to a resolver.
const PlaceholderPrefix = "PLACEHOLDER_"

// Record is one row of the reference table: an environment variable name
// bound to an opaque vault reference. When EnvScoped is true the row applies
// only while the active environment matches EnvKey (case-insensitive).
// Multiple records may share Name as long as each is scoped to a different
// environment.
type Record struct {
	Name      string `json:"env_var"`
	Reference string `json:"reference"`
	EnvScoped bool   `json:"environment_scoped"`
	EnvKey    string `json:"environment_key,omitempty"`
}

// IsPlaceholder reports whether the record's reference is an inert
// placeholder.
func (r Record) IsPlaceholder() bool {
	return strings.HasPrefix(r.Reference, PlaceholderPrefix)
}

// Provenance records how a variable's final value was produced. It decides
// which section of the rewritten file the variable lands in and nothing else.
type Provenance string

const (
	ProvenanceResolved    Provenance = "resolved-from-vault"
	ProvenancePlaceholder Provenance = "preserved-placeholder"
	ProvenanceFallback    Provenance = "preserved-fallback-on-error"
	ProvenanceUnmanaged   Provenance = "preserved-unmanaged"
)

// Managed reports whether the provenance belongs in the managed section of
// the rewritten file.
func (p Provenance) Managed() bool {
	return p != ProvenanceUnmanaged
}

// Resolved is a variable with its final value and provenance. It is an
// in-memory type only; it carries secret material and must never be
// serialized or logged.
type Resolved struct {
	Key        string
	Value      string
	Provenance Provenance
}
