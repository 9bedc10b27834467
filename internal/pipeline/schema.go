// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
)

// Validator implements the §4.7 JSON-Schema subset. It is implemented
// directly on the standard library: none of the pack's validation
// libraries (go-playground/validator in the Streamy teacher corpus)
// operate on dynamic map[string]interface{} payloads against a
// schema supplied at runtime — they validate Go struct tags fixed at
// compile time, which this use case cannot satisfy. See DESIGN.md.
type Validator struct{}

// NewValidator constructs a Validator. It is stateless.
func NewValidator() *Validator { return &Validator{} }

var envelopeKeys = []string{"data", "content", "text", "response"}

// Validate checks value against schema, returning every violation
// found (not just the first). Before validation it unwraps a top-level
// {data|content|text|response} envelope so handlers may return wrapped
// payloads (§4.7), but only when the schema has a type other than
// "object" and the map holds that single key; for object-typed or
// untyped schemas the value is validated as given.
func (v *Validator) Validate(value interface{}, schema *Schema) (interface{}, []ValidationIssue) {
	if schema == nil {
		return value, nil
	}
	unwrapped := unwrapEnvelope(value, schema)

	var issues []ValidationIssue
	v.validateNode(unwrapped, schema, "", &issues)
	return unwrapped, issues
}

func unwrapEnvelope(value interface{}, schema *Schema) interface{} {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value
	}
	if schema.Type != "" && schema.Type != "object" {
		for _, k := range envelopeKeys {
			if inner, ok := m[k]; ok && len(m) == 1 {
				return inner
			}
		}
	}
	return value
}

func (v *Validator) validateNode(value interface{}, schema *Schema, path string, issues *[]ValidationIssue) {
	if schema == nil {
		return
	}

	if !typeMatches(value, schema.Type) {
		if schema.Type != "" {
			*issues = append(*issues, ValidationIssue{
				Path: pathOrRoot(path), Message: fmt.Sprintf("expected type %q, got %s", schema.Type, goTypeName(value)),
				Value: value, Schema: schema,
			})
			return
		}
	}

	switch schema.Type {
	case "object":
		v.validateObject(value, schema, path, issues)
	case "array":
		v.validateArray(value, schema, path, issues)
	case "string":
		v.validateString(value, schema, path, issues)
	case "number", "integer":
		v.validateNumber(value, schema, path, issues)
	}

	if len(schema.Enum) > 0 {
		if !enumContains(schema.Enum, value) {
			*issues = append(*issues, ValidationIssue{
				Path: pathOrRoot(path), Message: "value not in enum", Value: value, Schema: schema,
			})
		}
	}
}

func (v *Validator) validateObject(value interface{}, schema *Schema, path string, issues *[]ValidationIssue) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return
	}

	for _, req := range schema.Required {
		if _, ok := obj[req]; !ok {
			*issues = append(*issues, ValidationIssue{
				Path: joinPath(path, req), Message: "required property missing", Schema: schema,
			})
		}
	}

	for key, val := range obj {
		sub, declared := schema.Properties[key]
		if declared {
			v.validateNode(val, sub, joinPath(path, key), issues)
			continue
		}
		if schema.AdditionalProperties != nil {
			if !schema.AdditionalProperties.Allowed {
				*issues = append(*issues, ValidationIssue{
					Path: joinPath(path, key), Message: "additional property not allowed", Value: val,
				})
				continue
			}
			if schema.AdditionalProperties.Schema != nil {
				v.validateNode(val, schema.AdditionalProperties.Schema, joinPath(path, key), issues)
			}
		}
	}
}

func (v *Validator) validateArray(value interface{}, schema *Schema, path string, issues *[]ValidationIssue) {
	arr, ok := value.([]interface{})
	if !ok {
		return
	}
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("array has %d items, minItems is %d", len(arr), *schema.MinItems), Value: value})
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("array has %d items, maxItems is %d", len(arr), *schema.MaxItems), Value: value})
	}
	if schema.Items != nil {
		for i, item := range arr {
			v.validateNode(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), issues)
		}
	}
}

func (v *Validator) validateString(value interface{}, schema *Schema, path string, issues *[]ValidationIssue) {
	s, ok := value.(string)
	if !ok {
		return
	}
	if schema.MinLength != nil && len(s) < *schema.MinLength {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("length %d below minLength %d", len(s), *schema.MinLength), Value: value})
	}
	if schema.MaxLength != nil && len(s) > *schema.MaxLength {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("length %d above maxLength %d", len(s), *schema.MaxLength), Value: value})
	}
	if schema.Pattern != "" {
		re, err := regexp.Compile(schema.Pattern)
		if err == nil && !re.MatchString(s) {
			*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("does not match pattern %q", schema.Pattern), Value: value})
		}
	}
}

func (v *Validator) validateNumber(value interface{}, schema *Schema, path string, issues *[]ValidationIssue) {
	n, ok := asFloat(value)
	if !ok {
		return
	}
	if schema.Type == "integer" && n != float64(int64(n)) {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: "expected integer value", Value: value})
	}
	if schema.Minimum != nil && n < *schema.Minimum {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("%v below minimum %v", n, *schema.Minimum), Value: value})
	}
	if schema.Maximum != nil && n > *schema.Maximum {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("%v above maximum %v", n, *schema.Maximum), Value: value})
	}
	if schema.ExclusiveMinimum != nil && n <= *schema.ExclusiveMinimum {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("%v not above exclusiveMinimum %v", n, *schema.ExclusiveMinimum), Value: value})
	}
	if schema.ExclusiveMaximum != nil && n >= *schema.ExclusiveMaximum {
		*issues = append(*issues, ValidationIssue{Path: pathOrRoot(path), Message: fmt.Sprintf("%v not below exclusiveMaximum %v", n, *schema.ExclusiveMaximum), Value: value})
	}
}

func typeMatches(value interface{}, schemaType string) bool {
	switch schemaType {
	case "":
		return true
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := asFloat(value)
		return ok
	case "integer":
		f, ok := asFloat(value)
		return ok && f == float64(int64(f))
	default:
		return true
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func goTypeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
