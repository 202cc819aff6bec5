package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/envsync/pkg/schema"
)

// policySchemaJSON is the JSON Schema for policy documents. The root stays
// permissive because policy files may live inside a larger tooling config;
// only the keys this tool reads are constrained.
const policySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://envsync.dev/schemas/policy.json",
  "type": "object",
  "properties": {
    "default_exclusions": { "$ref": "#/$defs/name_list" },
    "exclusions": { "$ref": "#/$defs/name_list" },
    "inclusions": { "$ref": "#/$defs/name_list" },
    "expected_variables": {
      "type": "object",
      "properties": {
        "required": { "$ref": "#/$defs/name_list" },
        "recommended": { "$ref": "#/$defs/name_list" },
        "optional": { "$ref": "#/$defs/name_list" },
        "production": { "$ref": "#/$defs/name_list" }
      },
      "additionalProperties": false
    }
  },
  "$defs": {
    "name_list": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    }
  }
}`

var compilePolicySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(policySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal policy schema: %w", err)
	}
	if err := c.AddResource("https://envsync.dev/schemas/policy.json", doc); err != nil {
		return nil, fmt.Errorf("add policy schema resource: %w", err)
	}
	return c.Compile("https://envsync.dev/schemas/policy.json")
})

// validatePolicyDocument checks a parsed policy document against the
// embedded JSON Schema.
func validatePolicyDocument(doc map[string]any) error {
	compiled, err := compilePolicySchema()
	if err != nil {
		// The embedded schema failing to compile is a programming error, not
		// an operator problem; skip validation rather than reject documents.
		return nil
	}

	jsonDoc, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "cannot serialize policy document").WithCause(err)
	}
	if err := compiled.Validate(jsonDoc); err != nil {
		return toConfigError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toConfigError flattens a jsonschema.ValidationError tree into a single
// structured error listing each violation's location.
func toConfigError(err error) *schema.SyncError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeConfig, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeConfig, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeConfig, "policy validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
