// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`{{\s*([^{}]+?)\s*}}`)
var wholePlaceholderRe = regexp.MustCompile(`^\s*{{\s*([^{}]+?)\s*}}\s*$`)

// Resolver implements the §4.1 template/expression language: it
// substitutes {{...}} placeholders against a Context, with a small
// fixed-grammar interpreter for dotted references and builtin function
// calls. Unknown references fall back to the original placeholder text
// rather than erroring.
type Resolver struct{}

// NewResolver constructs a Resolver. It is stateless; one instance may
// be shared across an entire execution.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve evaluates text against ctx. If text is exactly one
// placeholder, the resolved value keeps its original type (map, list,
// number, bool, nil, string). Otherwise every placeholder is
// stringified and substituted into the surrounding literal text,
// producing a string (§4.1, §8.1 invariant 4).
func (r *Resolver) Resolve(text string, ctx *Context) interface{} {
	if m := wholePlaceholderRe.FindStringSubmatch(text); m != nil {
		val, ok := r.eval(m[1], ctx)
		if !ok {
			return text
		}
		return val
	}

	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := r.eval(inner, ctx)
		if !ok {
			return match
		}
		return stringify(val)
	})
}

// ResolveString is a convenience wrapper that always returns a string,
// used by callers (prompt assembly, file paths) that need text rather
// than a typed value.
func (r *Resolver) ResolveString(text string, ctx *Context) string {
	v := r.Resolve(text, ctx)
	if s, ok := v.(string); ok {
		return s
	}
	return stringify(v)
}

// Truthy implements the §4.4 condition-truthiness rule: everything is
// truthy except false, nil, 0, "", an empty list or an empty map.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// eval interprets a single expression body (the text between {{ }}).
func (r *Resolver) eval(expr string, ctx *Context) (interface{}, bool) {
	expr = strings.TrimSpace(expr)

	if call, ok := parseCall(expr); ok {
		return r.evalCall(call, ctx)
	}

	switch {
	case expr == "steps" || strings.HasPrefix(expr, "steps."):
		return r.evalSteps(expr, ctx)
	case expr == "inputs" || strings.HasPrefix(expr, "inputs."):
		return r.evalDotted(strings.TrimPrefix(expr, "inputs."), ctx.Inputs)
	case expr == "global_vars" || strings.HasPrefix(expr, "global_vars."):
		return r.evalDotted(strings.TrimPrefix(expr, "global_vars."), ctx.Globals)
	case expr == "workflow" || strings.HasPrefix(expr, "workflow."):
		return r.evalDotted(strings.TrimPrefix(expr, "workflow."), ctx.Workflow)
	}

	return nil, false
}

// evalSteps handles steps.<name> and steps.<name>.result[.<field>...]
// (§4.1). A stored {result: X} envelope is transparently unwrapped.
func (r *Resolver) evalSteps(expr string, ctx *Context) (interface{}, bool) {
	rest := strings.TrimPrefix(expr, "steps.")
	if rest == "" || rest == expr {
		return nil, false
	}

	parts := strings.Split(rest, ".")
	stepName := parts[0]
	result, ok := ctx.GetResult(stepName)
	if !ok {
		return nil, false
	}
	result = unwrapResultEnvelope(result)

	remaining := parts[1:]
	if len(remaining) > 0 && remaining[0] == "result" {
		remaining = remaining[1:]
	}
	return traverse(result, remaining)
}

// evalDotted traverses key[.field...] against a base map.
func (r *Resolver) evalDotted(path string, base map[string]interface{}) (interface{}, bool) {
	if path == "" {
		return base, true
	}
	parts := strings.Split(path, ".")
	key := parts[0]
	v, ok := base[key]
	if !ok {
		return nil, false
	}
	return traverse(v, parts[1:])
}

func traverse(v interface{}, fields []string) (interface{}, bool) {
	cur := v
	for _, f := range fields {
		if cur == nil {
			return nil, false
		}
		switch m := cur.(type) {
		case map[string]interface{}:
			next, ok := m[f]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			idx, err := strconv.Atoi(f)
			if err != nil {
				return nil, false
			}
			list, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			cur = list[idx]
		}
	}
	return cur, true
}

// unwrapResultEnvelope strips a top-level {"result": X} wrapper some
// handlers return, per §4.1's "unwrapped from any {result: X} envelope".
func unwrapResultEnvelope(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if len(m) == 1 {
			if inner, ok := m["result"]; ok {
				return inner
			}
		}
	}
	return v
}

// --- builtin function calls ---

type call struct {
	name string
	args []string
}

var callRe = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)\((.*)\)$`)

func parseCall(expr string) (call, bool) {
	m := callRe.FindStringSubmatch(expr)
	if m == nil {
		return call{}, false
	}
	name := m[1]
	switch name {
	case "add", "subtract", "multiply", "divide", "max", "min", "round", "length", "json", "keys":
	default:
		return call{}, false
	}
	return call{name: name, args: splitArgs(m[2])}, true
}

// splitArgs splits a builtin call's argument list on top-level commas,
// respecting nested parens (so builtins may nest).
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var args []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args
}

func (r *Resolver) evalCall(c call, ctx *Context) (interface{}, bool) {
	argVals := make([]interface{}, len(c.args))
	for i, a := range c.args {
		argVals[i] = r.evalArg(a, ctx)
	}

	switch c.name {
	case "add":
		return reduceNumeric(argVals, 0, func(a, b float64) float64 { return a + b }), true
	case "subtract":
		return foldNumeric(argVals, func(a, b float64) float64 { return a - b }), true
	case "multiply":
		return reduceNumeric(argVals, 1, func(a, b float64) float64 { return a * b }), true
	case "divide":
		return foldNumeric(argVals, func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		}), true
	case "max":
		return foldNumeric(argVals, func(a, b float64) float64 {
			if a > b {
				return a
			}
			return b
		}), true
	case "min":
		return foldNumeric(argVals, func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		}), true
	case "round":
		if len(argVals) == 0 {
			return 0, true
		}
		return float64(int64(toFloat(argVals[0]) + 0.5)), true
	case "length":
		if len(argVals) == 0 {
			return 0, true
		}
		return lengthOf(argVals[0]), true
	case "json":
		if len(argVals) == 0 {
			return "", true
		}
		b, err := json.Marshal(argVals[0])
		if err != nil {
			return "", true
		}
		return string(b), true
	case "keys":
		if len(argVals) == 0 {
			return []interface{}{}, true
		}
		m, ok := argVals[0].(map[string]interface{})
		if !ok {
			return []interface{}{}, true
		}
		ks := make([]string, 0, len(m))
		for k := range m {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		out := make([]interface{}, len(ks))
		for i, k := range ks {
			out[i] = k
		}
		return out, true
	}
	return nil, false
}

// evalArg resolves a single builtin argument: a dotted reference, a
// nested call, or a numeric/string literal.
func (r *Resolver) evalArg(arg string, ctx *Context) interface{} {
	if v, ok := r.eval(arg, ctx); ok {
		return v
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f
	}
	unquoted := strings.Trim(arg, `"'`)
	return unquoted
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func reduceNumeric(vals []interface{}, identity float64, op func(a, b float64) float64) float64 {
	acc := identity
	for _, v := range vals {
		acc = op(acc, toFloat(v))
	}
	return acc
}

func foldNumeric(vals []interface{}, op func(a, b float64) float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	acc := toFloat(vals[0])
	for _, v := range vals[1:] {
		acc = op(acc, toFloat(v))
	}
	return acc
}

func lengthOf(v interface{}) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []interface{}:
		return len(t)
	case map[string]interface{}:
		return len(t)
	default:
		return 0
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int64, bool:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
