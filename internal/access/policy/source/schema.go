// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package source

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/hagate/internal/access/policy"
)

// SchemaID is the $id of the policy document schema.
const SchemaID = "https://holomush.dev/schemas/hagate-policy.schema.json"

var (
	compileOnce sync.Once
	compiled    *jschema.Schema
	compileErr  error
)

// GenerateSchema reflects a JSON Schema from the policy document types.
// Unknown keys are accepted so documents written for newer releases still
// load.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&policy.Document{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "hagate policy document"
	schema.Description = "Roles, subjects and restrictions for service-call authorization"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("schema").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema validates a parsed policy document against the schema.
func ValidateSchema(raw map[string]any) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(toJSONTypes(raw)); err != nil {
		return oops.In("policy").Code(CodeSchema).Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	compileOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}

		var schemaData any
		if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
			compileErr = oops.In("schema").Wrapf(err, "parse schema JSON")
			return
		}

		c := jschema.NewCompiler()
		if err := c.AddResource("policy.schema.json", schemaData); err != nil {
			compileErr = oops.In("schema").Wrapf(err, "add schema resource")
			return
		}
		compiled, compileErr = c.Compile("policy.schema.json")
		if compileErr != nil {
			compileErr = oops.In("schema").Wrapf(compileErr, "compile schema")
		}
	})
	return compiled, compileErr
}

// toJSONTypes converts parser output to the types the validator accepts.
// YAML may produce map[any]any for non-string keys.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = toJSONTypes(v)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[toKey(k)] = toJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = toJSONTypes(v)
		}
		return result
	case string, bool, int, int64, uint64, float64, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

func toKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	b, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

// FormatSchemaError returns the validator's own message for a schema
// failure, without the wrapping context.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	var verr *jschema.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
