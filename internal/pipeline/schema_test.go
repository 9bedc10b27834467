// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptrInt(i int) *int          { return &i }
func ptrFloat(f float64) *float64 { return &f }

func TestValidate_RequiredAndType(t *testing.T) {
	v := NewValidator()
	schema := &Schema{
		Type:     "object",
		Required: []string{"name", "age"},
		Properties: map[string]*Schema{
			"name": {Type: "string"},
			"age":  {Type: "integer"},
		},
	}

	_, issues := v.Validate(map[string]interface{}{"name": "Ada"}, schema)
	if assert.Len(t, issues, 1) {
		assert.Equal(t, "age", issues[0].Path)
	}

	_, issues = v.Validate(map[string]interface{}{"name": "Ada", "age": 30}, schema)
	assert.Empty(t, issues)

	_, issues = v.Validate(map[string]interface{}{"name": 1, "age": 30}, schema)
	if assert.Len(t, issues, 1) {
		assert.Equal(t, "name", issues[0].Path)
	}
}

func TestValidate_EnvelopeUnwrap(t *testing.T) {
	v := NewValidator()
	schema := &Schema{Type: "string"}

	got, issues := v.Validate(map[string]interface{}{"data": "hello"}, schema)
	assert.Empty(t, issues)
	assert.Equal(t, "hello", got)
}

func TestValidate_ArrayBounds(t *testing.T) {
	v := NewValidator()
	schema := &Schema{Type: "array", MinItems: ptrInt(2), MaxItems: ptrInt(3)}

	_, issues := v.Validate([]interface{}{1}, schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate([]interface{}{1, 2, 3, 4}, schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate([]interface{}{1, 2}, schema)
	assert.Empty(t, issues)
}

func TestValidate_StringConstraints(t *testing.T) {
	v := NewValidator()
	schema := &Schema{Type: "string", MinLength: ptrInt(2), MaxLength: ptrInt(4), Pattern: "^[a-z]+$"}

	_, issues := v.Validate("a", schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate("ABCD", schema)
	assert.Len(t, issues, 1) // pattern mismatch

	_, issues = v.Validate("abcde", schema)
	assert.Len(t, issues, 1) // too long

	_, issues = v.Validate("abcd", schema)
	assert.Empty(t, issues)
}

func TestValidate_NumberBounds(t *testing.T) {
	v := NewValidator()
	schema := &Schema{Type: "number", Minimum: ptrFloat(0), Maximum: ptrFloat(10)}

	_, issues := v.Validate(-1.0, schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate(11.0, schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate(5.0, schema)
	assert.Empty(t, issues)
}

func TestValidate_Enum(t *testing.T) {
	v := NewValidator()
	schema := &Schema{Type: "string", Enum: []interface{}{"a", "b"}}

	_, issues := v.Validate("c", schema)
	assert.Len(t, issues, 1)

	_, issues = v.Validate("a", schema)
	assert.Empty(t, issues)
}

func TestValidate_AdditionalPropertiesDisallowed(t *testing.T) {
	v := NewValidator()
	schema := &Schema{
		Type:                 "object",
		Properties:           map[string]*Schema{"name": {Type: "string"}},
		AdditionalProperties: &AdditionalProps{Allowed: false},
	}

	_, issues := v.Validate(map[string]interface{}{"name": "Ada", "extra": 1}, schema)
	if assert.Len(t, issues, 1) {
		assert.Equal(t, "extra", issues[0].Path)
	}
}

func TestValidate_NestedPathsEnumerated(t *testing.T) {
	v := NewValidator()
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"items": {Type: "array", Items: &Schema{Type: "object", Required: []string{"id"}}},
		},
	}

	_, issues := v.Validate(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": 1},
			map[string]interface{}{},
		},
	}, schema)

	if assert.Len(t, issues, 1) {
		assert.Equal(t, "items[1].id", issues[0].Path)
	}
}
