// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecuteOptions configures a single root execution (§4.10).
type ExecuteOptions struct {
	WorkspaceDir     string
	OutputDir        string
	CheckpointDir    string
	TimeoutMs        int64
	MemoryLimitBytes uint64
	Debug            bool
	Resume           bool

	Providers *ProviderRegistry
	Pipelines PipelineResolver
	Metrics   prometheus.Registerer
	OnLog     func(level, msg string, fields map[string]interface{})
}

// ExecuteResult is the public outcome of a root execution.
type ExecuteResult struct {
	Results map[string]interface{}
	TraceID string
	Spans   []*Span
	Summary PerformanceSummary
}

// Executor is the single public entry point (C10): it owns workspace
// setup, checkpoint restore, the full dispatcher run, and finalization.
type Executor struct{}

// NewExecutor constructs an Executor. It is stateless; a fresh Context,
// Dispatcher and Tracer are built per call to Execute.
func NewExecutor() *Executor { return &Executor{} }

// Execute runs pipeline to completion (or failure) per §4.10.
func (e *Executor) Execute(ctx context.Context, p *Pipeline, opts ExecuteOptions) (*ExecuteResult, error) {
	if opts.WorkspaceDir != "" {
		if err := os.MkdirAll(opts.WorkspaceDir, 0o755); err != nil {
			return nil, fmt.Errorf("initializing workspace_dir: %w", err)
		}
	}
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("initializing output_dir: %w", err)
		}
	}

	limits := DefaultSafetyLimits()
	if opts.TimeoutMs > 0 {
		limits.TimeoutMs = opts.TimeoutMs
	}
	if opts.MemoryLimitBytes > 0 {
		limits.MemoryLimitBytes = opts.MemoryLimitBytes
	}

	onLog := opts.OnLog
	if onLog == nil {
		onLog = func(string, string, map[string]interface{}) {}
	}

	guard := NewGuard(limits, func(msg string, fields map[string]interface{}) {
		onLog("warn", msg, fields)
	})
	resolver := NewResolver()
	validator := NewValidator()
	tracer := NewTracer(opts.Metrics)

	var checkpoints *CheckpointStore
	if opts.CheckpointDir != "" {
		var err error
		checkpoints, err = NewCheckpointStore(opts.CheckpointDir)
		if err != nil {
			return nil, fmt.Errorf("initializing checkpoint store: %w", err)
		}
	}

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	dispatcher := NewDispatcher(resolver, guard, validator, tracer, checkpoints, providers, opts.Pipelines, onLog)

	rootCtx := NewRoot(p)
	startIndex := 0

	if opts.Resume && checkpoints != nil {
		cp, err := checkpoints.ReadLatest(p.Name)
		if err != nil {
			return nil, fmt.Errorf("reading checkpoint: %w", err)
		}
		if cp != nil {
			startIndex = Resume(rootCtx, cp) + 1
			onLog("info", "resuming from checkpoint", map[string]interface{}{
				"pipeline_id": p.Name, "step_index": cp.StepIndex,
			})
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if limits.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(limits.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	results, err := dispatcher.Run(runCtx, p, rootCtx, startIndex)

	if err != nil {
		if runCtx.Err() != nil && !IsCancelledAlready(err) {
			if checkpoints != nil {
				_ = checkpoints.Write(p.Name, rootCtx.StepIndex, rootCtx.SnapshotResults())
			}
			err = NewCancelled(rootCtx.Chain(), "", err)
		}
		spans := tracer.Tree(rootCtx.TraceID)
		return &ExecuteResult{Results: results, TraceID: rootCtx.TraceID, Spans: spans, Summary: tracer.Summary(spans)}, err
	}

	spans := tracer.Tree(rootCtx.TraceID)
	return &ExecuteResult{
		Results: results,
		TraceID: rootCtx.TraceID,
		Spans:   spans,
		Summary: tracer.Summary(spans),
	}, nil
}

// IsCancelledAlready reports whether err already carries the Cancelled
// kind, to avoid double-wrapping on timeout.
func IsCancelledAlready(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == ErrCancelled
}
