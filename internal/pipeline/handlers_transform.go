// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
)

// runDataTransform applies the step's declared filter/aggregate/join
// operations, in order, to the resolved source field (§4.4).
func runDataTransform(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	current := d.Resolver.Resolve(step.TransformField, pctx)

	for _, op := range step.Operations {
		var err error
		switch op.Kind {
		case "filter":
			current, err = applyFilter(current, op.Args, pctx, d.Resolver)
		case "aggregate":
			current, err = applyAggregate(current, op.Args)
		case "join":
			current, err = applyJoin(current, op.Args)
		default:
			return nil, NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("unknown data_transform operation %q", op.Kind))
		}
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// applyFilter keeps list elements that pass the filter. With
// args["field"] set, a map element is kept when its field's %v text
// equals that of args["equals"]. Otherwise args["where"] is resolved
// against the step's Context; the element is not bound into that
// expression, so every element is kept or dropped alike. With neither
// set, every element is kept.
func applyFilter(value interface{}, args map[string]interface{}, pctx *Context, r *Resolver) (interface{}, error) {
	list, ok := value.([]interface{})
	if !ok {
		return value, nil
	}
	expr, _ := args["where"].(string)
	field, _ := args["field"].(string)
	eqVal := args["equals"]

	var out []interface{}
	for _, item := range list {
		if expr == "" && field == "" {
			out = append(out, item)
			continue
		}
		if field != "" {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if fmt.Sprintf("%v", m[field]) == fmt.Sprintf("%v", eqVal) {
				out = append(out, item)
			}
			continue
		}
		if Truthy(r.Resolve(expr, pctx)) {
			out = append(out, item)
		}
	}
	return out, nil
}

// applyAggregate reduces a list field to a single scalar (count, sum, avg).
func applyAggregate(value interface{}, args map[string]interface{}) (interface{}, error) {
	list, ok := value.([]interface{})
	if !ok {
		return value, nil
	}
	kind, _ := args["func"].(string)
	field, _ := args["field"].(string)

	switch kind {
	case "count":
		return len(list), nil
	case "sum", "avg":
		var sum float64
		for _, item := range list {
			v := item
			if field != "" {
				if m, ok := item.(map[string]interface{}); ok {
					v = m[field]
				}
			}
			sum += toFloat(v)
		}
		if kind == "avg" && len(list) > 0 {
			return sum / float64(len(list)), nil
		}
		return sum, nil
	default:
		return nil, fmt.Errorf("data_transform aggregate: unknown func %q", kind)
	}
}

// applyJoin concatenates a list of strings (or a projected field) with
// the given separator.
func applyJoin(value interface{}, args map[string]interface{}) (interface{}, error) {
	list, ok := value.([]interface{})
	if !ok {
		return value, nil
	}
	sep, _ := args["separator"].(string)
	field, _ := args["field"].(string)

	parts := make([]string, 0, len(list))
	for _, item := range list {
		v := item
		if field != "" {
			if m, ok := item.(map[string]interface{}); ok {
				v = m[field]
			}
		}
		parts = append(parts, stringify(v))
	}
	return joinStrings(parts, sep), nil
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// runSetVariable resolves value and writes it into the context's
// variable_state (§4.4).
func runSetVariable(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	val := d.Resolver.Resolve(step.VariableValue, pctx)
	pctx.VariableState[step.VariableName] = val
	return val, nil
}

// runExplicitCheckpoint handles the explicit checkpoint marker step:
// it forces an out-of-band write even when checkpoint_enabled is
// false at the pipeline level.
func runExplicitCheckpoint(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	if d.Checkpoints == nil {
		return map[string]interface{}{"checkpointed": false}, nil
	}
	if err := d.Checkpoints.Write(pctx.PipelineID, pctx.StepIndex, pctx.SnapshotResults()); err != nil {
		return nil, fmt.Errorf("explicit checkpoint: %w", err)
	}
	return map[string]interface{}{"checkpointed": true}, nil
}
