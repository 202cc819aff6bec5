package secrets

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/rendis/envsync/internal/logging"
	"github.com/rendis/envsync/pkg/schema"
)

// defaultVaultField is picked when a vault:// reference names no #field and
// the secret holds a conventional single value.
const defaultVaultField = "value"

// kvReader is the slice of the Vault KV v2 API the resolver needs.
type kvReader interface {
	Get(ctx context.Context, path string) (*api.KVSecret, error)
}

// VaultKV resolves vault://<mount>/<path>[#field] references against a
// HashiCorp Vault KV v2 engine. Address and token come from the standard
// VAULT_ADDR and VAULT_TOKEN environment variables.
type VaultKV struct {
	kv     func(mount string) kvReader
	lookup func(ctx context.Context) error
	logger *slog.Logger
}

// NewVaultKV builds a resolver from the ambient Vault environment.
func NewVaultKV(logger *slog.Logger) (*VaultKV, error) {
	client, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSession, "cannot initialize vault client").WithCause(err)
	}
	return &VaultKV{
		kv: func(mount string) kvReader {
			return client.KVv2(mount)
		},
		lookup: func(ctx context.Context) error {
			_, err := client.Auth().Token().LookupSelfWithContext(ctx)
			return err
		},
		logger: logger,
	}, nil
}

func (v *VaultKV) Scheme() string { return "vault" }

// CheckSession verifies the token with a self-lookup. The API error is kept
// as a cause only; its text may quote the server response.
func (v *VaultKV) CheckSession(ctx context.Context) error {
	if err := v.lookup(ctx); err != nil {
		return schema.NewError(schema.ErrCodeSession,
			"vault token is missing or expired; re-authenticate and retry").WithCause(err)
	}
	return nil
}

// Resolve reads one KV v2 secret and extracts the referenced field.
func (v *VaultKV) Resolve(ctx context.Context, reference string) (string, error) {
	mount, path, field, err := parseVaultRef(reference)
	if err != nil {
		return "", err
	}

	secret, err := v.kv(mount).Get(ctx, path)
	if err != nil {
		logging.LogWith(ctx, v.logger).Debug("vault read failed", "reference", reference)
		return "", schema.NewErrorf(schema.ErrCodeResolution,
			"vault read failed for %s", reference).WithCause(err)
	}
	if secret == nil || len(secret.Data) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeResolution, "no data at %s", reference)
	}

	raw, err := pickField(secret.Data, field, reference)
	if err != nil {
		return "", err
	}

	value := stringifySecret(raw)
	if value == "" {
		return "", schema.NewErrorf(schema.ErrCodeResolution, "empty value returned for %s", reference)
	}
	return value, nil
}

// parseVaultRef splits vault://<mount>/<path>[#field] into its parts.
func parseVaultRef(reference string) (mount, path, field string, err error) {
	rest, ok := strings.CutPrefix(reference, "vault://")
	if !ok {
		return "", "", "", schema.NewErrorf(schema.ErrCodeResolution,
			"unsupported reference format %s", reference)
	}
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		field = rest[i+1:]
		rest = rest[:i]
	}
	mount, path, ok = strings.Cut(rest, "/")
	if !ok || mount == "" || path == "" {
		return "", "", "", schema.NewErrorf(schema.ErrCodeResolution,
			"reference %s must be vault://<mount>/<path>[#field]", reference)
	}
	return mount, path, field, nil
}

// pickField selects the referenced field, falling back to the conventional
// "value" key or a lone entry when no field is named.
func pickField(data map[string]any, field, reference string) (any, error) {
	if field != "" {
		raw, ok := data[field]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"field %q not present at %s", field, reference)
		}
		return raw, nil
	}
	if raw, ok := data[defaultVaultField]; ok {
		return raw, nil
	}
	if len(data) == 1 {
		for _, raw := range data {
			return raw, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeResolution,
		"secret at %s holds multiple fields; append #<field> to the reference", reference)
}

// stringifySecret renders a KV value as the string that lands in the env
// file. Non-string values (service-account maps, numbers) are re-encoded
// as compact JSON.
func stringifySecret(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
