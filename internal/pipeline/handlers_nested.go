// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
)

// runNestedPipeline implements the §4.5 nested-pipeline runner: resolve
// the child definition, build its Context per the inheritance config,
// map inputs from the parent, recurse through the Dispatcher, then
// extract outputs back into the parent's single stored result.
func runNestedPipeline(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	child, err := resolveChildPipeline(step, d.Pipelines)
	if err != nil {
		return nil, err
	}

	if err := d.Guard.CheckCycle(pctx, child.Name); err != nil {
		return nil, err
	}
	if err := d.Guard.CheckDepth(pctx); err != nil {
		return nil, err
	}

	opts := childOptions{
		inherit:          step.NestedConfig.InheritContext,
		globalInclude:    step.NestedConfig.Inheritance.GlobalVars.Include,
		globalExclude:    step.NestedConfig.Inheritance.GlobalVars.Exclude,
		providerOverride: step.NestedConfig.ProviderOverride,
	}
	childCtx := pctx.NewChild(child.Name, opts)

	childCtx.Inputs = mapChildInputs(step, pctx, childCtx, d.Resolver)

	if _, err := d.Run(ctx, child, childCtx, 0); err != nil {
		if pe, ok := AsError(err); ok {
			return nil, pe.WithChain(pctx.PipelineID)
		}
		return nil, NewInternal(childCtx.Chain(), step.Name, err.Error())
	}

	return extractChildOutputs(step, childCtx)
}

// resolveChildPipeline honors the §4.5 precedence: pipeline_ref → named
// registry; pipeline_file → filesystem load; pipeline → inline.
func resolveChildPipeline(step *Step, resolver PipelineResolver) (*Pipeline, error) {
	switch {
	case step.PipelineRef != "":
		if resolver == nil {
			return nil, fmt.Errorf("nested step %q: no pipeline registry configured for pipeline_ref", step.Name)
		}
		return resolver.ResolveRef(step.PipelineRef)
	case step.PipelineFile != "":
		if resolver == nil {
			return nil, fmt.Errorf("nested step %q: no pipeline loader configured for pipeline_file", step.Name)
		}
		return resolver.ResolveFile(step.PipelineFile)
	case step.InlinePipeline != nil:
		return step.InlinePipeline, nil
	default:
		return nil, fmt.Errorf("nested step %q: none of pipeline_ref/pipeline_file/pipeline is set", step.Name)
	}
}

// mapChildInputs resolves step.inputs against the parent context (so
// templates refer to the parent's results) and, when inheriting with
// no explicit inputs given, carries the parent's inputs through
// verbatim (§4.5 step 3).
func mapChildInputs(step *Step, parent, child *Context, r *Resolver) map[string]interface{} {
	if len(step.Inputs) == 0 {
		if step.NestedConfig.InheritContext {
			carried := make(map[string]interface{}, len(parent.Inputs))
			for k, v := range parent.Inputs {
				carried[k] = v
			}
			return carried
		}
		return map[string]interface{}{}
	}

	resolved := make(map[string]interface{}, len(step.Inputs))
	for name, expr := range step.Inputs {
		resolved[name] = r.Resolve(expr, parent)
	}
	return resolved
}

// extractChildOutputs implements §4.5 step 5's three output-mapping
// shapes. No child result reaches the parent except through this
// extraction.
func extractChildOutputs(step *Step, child *Context) (interface{}, error) {
	if len(step.Outputs) == 0 {
		out := make(map[string]interface{}, len(child.Results))
		for name, v := range child.SnapshotResults() {
			out[name] = unwrapResultEnvelope(v)
		}
		return out, nil
	}

	out := make(map[string]interface{}, len(step.Outputs))
	for _, mapping := range step.Outputs {
		if mapping.Shorthand != "" {
			v, ok := child.GetResult(mapping.Shorthand)
			if !ok {
				return nil, NewPathNotFound(child.Chain(), step.Name, mapping.Shorthand)
			}
			out[mapping.Shorthand] = unwrapResultEnvelope(v)
			continue
		}

		parts := splitDots(mapping.Path)
		if len(parts) == 0 {
			return nil, NewPathNotFound(child.Chain(), step.Name, mapping.Path)
		}
		root, ok := child.GetResult(parts[0])
		if !ok {
			if mapping.Optional {
				continue
			}
			return nil, NewPathNotFound(child.Chain(), step.Name, mapping.Path)
		}
		root = unwrapResultEnvelope(root)

		v, ok := traverse(root, parts[1:])
		if !ok {
			if mapping.Optional {
				continue
			}
			return nil, NewPathNotFound(child.Chain(), step.Name, mapping.Path)
		}

		alias := mapping.As
		if alias == "" {
			alias = mapping.Path
		}
		out[alias] = v
	}
	return out, nil
}
