// Package secrets resolves vault references into secret values. Failure
// messages from every backend carry only the reference identifier and a
// generic cause; raw CLI or API output never reaches an error string, so
// partially-redacted secret material cannot leak into logs.
package secrets

import (
	"context"
	"strings"
	"sync"

	"github.com/rendis/envsync/pkg/schema"
)

// Resolver resolves one vault reference into its secret value.
type Resolver interface {
	// Scheme is the reference URI scheme this resolver serves.
	Scheme() string
	// CheckSession verifies the backend is authenticated. It runs before
	// any file mutation so an unauthenticated run aborts cleanly.
	CheckSession(ctx context.Context) error
	// Resolve returns the secret value for reference.
	Resolve(ctx context.Context, reference string) (string, error)
}

// Registry routes references to resolvers by URI scheme. References without
// a scheme fall back to the default scheme.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	fallback  string
}

// NewRegistry creates a registry whose schemeless references route to
// fallbackScheme.
func NewRegistry(fallbackScheme string) *Registry {
	return &Registry{
		resolvers: make(map[string]Resolver),
		fallback:  fallbackScheme,
	}
}

// Register adds a resolver. Returns an error on duplicate scheme.
func (r *Registry) Register(res Resolver) error {
	if res == nil {
		return schema.NewError(schema.ErrCodeValidation, "resolver is nil")
	}
	scheme := res.Scheme()
	if scheme == "" {
		return schema.NewError(schema.ErrCodeValidation, "resolver scheme is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resolvers[scheme]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "resolver for scheme %q already registered", scheme)
	}
	r.resolvers[scheme] = res
	return nil
}

// SchemeOf returns the reference's scheme, or the fallback when the
// reference carries none.
func (r *Registry) SchemeOf(reference string) string {
	if scheme, _, ok := strings.Cut(reference, "://"); ok && scheme != "" {
		return scheme
	}
	return r.fallback
}

// For returns the resolver serving the reference's scheme.
func (r *Registry) For(reference string) (Resolver, error) {
	scheme := r.SchemeOf(reference)

	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resolvers[scheme]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeResolution,
			"no resolver registered for scheme %q (reference %s)", scheme, reference)
	}
	return res, nil
}

// Resolve routes the reference to its backend.
func (r *Registry) Resolve(ctx context.Context, reference string) (string, error) {
	res, err := r.For(reference)
	if err != nil {
		return "", err
	}
	return res.Resolve(ctx, reference)
}

// CheckSessions verifies every backend the given references require, once
// per scheme. References whose scheme has no resolver are skipped here;
// they fail per-key at resolution time instead of aborting the run.
func (r *Registry) CheckSessions(ctx context.Context, references []string) error {
	checked := make(map[string]struct{})
	for _, ref := range references {
		res, err := r.For(ref)
		if err != nil {
			continue
		}
		scheme := res.Scheme()
		if _, done := checked[scheme]; done {
			continue
		}
		if err := res.CheckSession(ctx); err != nil {
			return err
		}
		checked[scheme] = struct{}{}
	}
	return nil
}
