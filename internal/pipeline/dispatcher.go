// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"github.com/pipelinecore/engine/internal/pipelinecost"
)

// Handler executes one step type's semantics against a resolved Step
// and Context, returning the value to be stored under the step's name
// (§4.4). Handlers own side-effect semantics; the Dispatcher owns
// sequencing, safety checks, retries, validation, tracing and
// checkpointing around every handler invocation.
type Handler interface {
	Run(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	return f(ctx, pctx, step, d)
}

// PipelineResolver loads a child pipeline definition by pipeline_ref or
// pipeline_file for a nested-pipeline step (§4.5). The dispatcher's
// caller supplies an implementation backed by a named registry and/or
// the filesystem loader.
type PipelineResolver interface {
	ResolveRef(name string) (*Pipeline, error)
	ResolveFile(path string) (*Pipeline, error)
}

// Dispatcher drives the §4.4 main execution loop. One Dispatcher
// instance is shared across an entire root execution, including every
// nested pipeline it recurses into, so safety step-count accounting and
// tracing stay global to the run.
type Dispatcher struct {
	Resolver    *Resolver
	Guard       *Guard
	Validator   *Validator
	Tracer      *Tracer
	Checkpoints *CheckpointStore
	Providers   *ProviderRegistry
	Pipelines   PipelineResolver
	Costs       *pipelinecost.Tracker

	handlers map[StepType]Handler
	onLog    func(level, msg string, fields map[string]interface{})
}

// NewDispatcher wires the C1/C3/C7/C9/C8 collaborators into a fresh
// Dispatcher and registers the built-in step handlers.
func NewDispatcher(resolver *Resolver, guard *Guard, validator *Validator, tracer *Tracer, checkpoints *CheckpointStore, providers *ProviderRegistry, pipelines PipelineResolver, onLog func(string, string, map[string]interface{})) *Dispatcher {
	if onLog == nil {
		onLog = func(string, string, map[string]interface{}) {}
	}
	d := &Dispatcher{
		Resolver: resolver, Guard: guard, Validator: validator, Tracer: tracer,
		Checkpoints: checkpoints, Providers: providers, Pipelines: pipelines,
		Costs:    pipelinecost.NewTracker(nil),
		handlers: make(map[StepType]Handler), onLog: onLog,
	}
	d.handlers[StepProvider] = HandlerFunc(runProviderCall)
	d.handlers[StepParallelProvider] = HandlerFunc(runParallelProvider)
	d.handlers[StepPipeline] = HandlerFunc(runNestedPipeline)
	d.handlers[StepForLoop] = HandlerFunc(runForLoop)
	d.handlers[StepWhileLoop] = HandlerFunc(runWhileLoop)
	d.handlers[StepSwitch] = HandlerFunc(runSwitch)
	d.handlers[StepTransform] = HandlerFunc(runDataTransform)
	d.handlers[StepSetVariable] = HandlerFunc(runSetVariable)
	d.handlers[StepCheckpoint] = HandlerFunc(runExplicitCheckpoint)
	d.handlers[StepFileOps] = HandlerFunc(runFileOps)
	return d
}

// Run executes pipeline's steps against pctx starting at startIndex
// (0 for a fresh run, or a checkpoint's step_index on resume). It
// returns pctx.Results on success, or the first non-continue_on_error
// failure wrapped into the error envelope (§4.4, §7).
func (d *Dispatcher) Run(ctx context.Context, p *Pipeline, pctx *Context, startIndex int) (map[string]interface{}, error) {
	for i := startIndex; i < len(p.Steps); i++ {
		step := p.Steps[i]
		pctx.StepIndex = i

		if err := d.Guard.CheckStepCount(pctx); err != nil {
			return pctx.Results, err
		}
		if err := d.Guard.CheckResources(pctx); err != nil {
			return pctx.Results, err
		}

		if step.Condition != "" {
			val := d.Resolver.Resolve(step.Condition, pctx)
			if !Truthy(val) {
				continue
			}
		}

		spanID := d.Tracer.StartSpan(pctx, step.Name)

		result, err := d.runStep(ctx, step, pctx)

		if err != nil {
			d.Tracer.EndSpan(pctx, spanID, SpanFailed, err.Error())
			if step.ContinueOnError {
				d.onLog("warn", "step failed, continuing", map[string]interface{}{"step": step.Name, "error": err.Error()})
				continue
			}
			if pe, ok := AsError(err); ok {
				return pctx.Results, pe
			}
			return pctx.Results, NewInternal(pctx.Chain(), step.Name, err.Error())
		}

		if step.OutputSchema != nil {
			unwrapped, issues := d.Validator.Validate(result, step.OutputSchema)
			if len(issues) > 0 {
				d.Tracer.EndSpan(pctx, spanID, SpanFailed, "schema violation")
				verr := NewSchemaViolation(pctx.Chain(), step.Name, issues)
				if step.ContinueOnError {
					continue
				}
				return pctx.Results, verr
			}
			result = unwrapped
		}

		if err := pctx.StoreResult(step.Name, result); err != nil {
			d.Tracer.EndSpan(pctx, spanID, SpanFailed, err.Error())
			return pctx.Results, err
		}

		if step.OutputToFile != "" {
			if err := writeStepOutputFile(d.Resolver.ResolveString(step.OutputToFile, pctx), result); err != nil {
				d.onLog("error", "failed writing output_to_file", map[string]interface{}{"step": step.Name, "error": err.Error()})
			}
		}

		d.Tracer.EndSpan(pctx, spanID, SpanCompleted, "")

		if p.CheckpointEnabled && d.Checkpoints != nil {
			if err := d.Checkpoints.Write(pctx.PipelineID, i, pctx.SnapshotResults()); err != nil {
				d.onLog("error", "checkpoint write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return pctx.Results, nil
}

// runStep dispatches to the step's handler, wrapping the call in the
// robustness layer when the step carries a retry_config (§4.6).
func (d *Dispatcher) runStep(ctx context.Context, step *Step, pctx *Context) (interface{}, error) {
	h, ok := d.handlers[step.Type]
	if !ok {
		return nil, NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("unknown step type %q", step.Type))
	}

	if step.RetryConfig == nil {
		return h.Run(ctx, pctx, step, d)
	}

	retrier := NewRetrier(*step.RetryConfig, nil)
	result, err, _ := retrier.Do(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
		if attempt > 0 && step.RetryConfig.FallbackAction == FallbackSimplifiedPrompt && len(step.RetryConfig.SimplifiedPrompt) > 0 {
			simplified := *step
			simplified.Prompt = step.RetryConfig.SimplifiedPrompt
			return h.Run(ctx, pctx, &simplified, d)
		}
		return h.Run(ctx, pctx, step, d)
	})
	return result, err
}
