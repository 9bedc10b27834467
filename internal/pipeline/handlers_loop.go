// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runForLoop iterates data_source, executing the loop's inner steps
// once per item with iterator bound into inputs (§4.4). Parallel
// for_loops fork the Context per iteration and merge in input order
// regardless of completion order (§5).
func runForLoop(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	itemsVal := d.Resolver.Resolve(step.DataSource, pctx)
	items, ok := itemsVal.([]interface{})
	if !ok {
		return nil, NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("data_source %q did not resolve to a list", step.DataSource))
	}
	if step.MaxIterations > 0 && len(items) > step.MaxIterations {
		items = items[:step.MaxIterations]
	}

	if !step.Parallel {
		results := make([]interface{}, len(items))
		var prevKeys []string
		for i, item := range items {
			forkCtx := pctx.Fork()
			// The previous iteration's merged results would otherwise make
			// the same step names duplicates in this iteration.
			for _, k := range prevKeys {
				delete(forkCtx.Results, k)
			}
			forkCtx.Inputs[step.Iterator] = item
			if _, err := d.Run(ctx, &Pipeline{Name: pctx.PipelineID, Steps: step.LoopSteps}, forkCtx, 0); err != nil {
				return nil, err
			}
			results[i] = forkCtx.SnapshotResults()
			pctx.MergeFork(forkCtx, forkCtx.ExecutionLog)
			prevKeys = forkCtx.ExecutionLog
		}
		return results, nil
	}

	maxParallel := step.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(items)
	}
	results := make([]interface{}, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			forkCtx := pctx.Fork()
			forkCtx.Inputs[step.Iterator] = item
			if _, err := d.Run(gctx, &Pipeline{Name: pctx.PipelineID, Steps: step.LoopSteps}, forkCtx, 0); err != nil {
				return err
			}
			results[i] = forkCtx.SnapshotResults()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runWhileLoop re-checks condition against the updated context each
// iteration up to max_iterations (§4.4).
func runWhileLoop(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	maxIter := step.MaxIterations
	if maxIter <= 0 {
		maxIter = 1000
	}

	ran := 0
	var prevKeys []string
	for i := 0; i < maxIter; i++ {
		if !Truthy(d.Resolver.Resolve(step.Condition, pctx)) {
			break
		}
		forkCtx := pctx.Fork()
		for _, k := range prevKeys {
			delete(forkCtx.Results, k)
		}
		if _, err := d.Run(ctx, &Pipeline{Name: pctx.PipelineID, Steps: step.LoopSteps}, forkCtx, 0); err != nil {
			return nil, err
		}
		pctx.MergeFork(forkCtx, forkCtx.ExecutionLog)
		prevKeys = forkCtx.ExecutionLog
		ran++
	}
	return map[string]interface{}{"iterations_run": ran}, nil
}

// runSwitch evaluates expression and executes the matching case's
// inner steps, falling back to default (§4.4).
func runSwitch(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	val := d.Resolver.Resolve(step.Expression, pctx)
	key := stringify(val)

	branch, ok := step.Cases[key]
	if !ok {
		branch = step.Default
	}
	if len(branch) == 0 {
		return map[string]interface{}{"matched": ok, "case": key}, nil
	}

	if _, err := d.Run(ctx, &Pipeline{Name: pctx.PipelineID, Steps: branch}, pctx, 0); err != nil {
		return nil, err
	}
	return map[string]interface{}{"matched": ok, "case": key}, nil
}
