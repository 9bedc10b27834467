// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the mutable per-execution state carried through a pipeline
// invocation (§3.1). A Context is owned by exactly one executing
// goroutine; only the Dispatcher mutates Results between steps, so no
// intra-pipeline concurrent mutation occurs (§5).
type Context struct {
	PipelineID string
	TraceID    string
	StartTime  time.Time

	Parent *Context

	Results       map[string]interface{}
	Inputs        map[string]interface{}
	Globals       map[string]interface{}
	Workflow      map[string]interface{}
	Functions     map[string]interface{}
	Providers     map[string]interface{}
	VariableState map[string]interface{}

	StepIndex       int
	ExecutionLog    []string
	ExecutionChain  []string
	NestingDepth    int

	// currentSpan is the tracing span stack used by C9 to compute
	// parent_id for nested spans; it is per-Context because spans never
	// cross a pipeline boundary.
	currentSpan []string

	mu sync.RWMutex
}

// NewRoot creates the top-level Context for a fresh execution (§4.2).
func NewRoot(p *Pipeline) *Context {
	globals := map[string]interface{}{}
	for k, v := range p.Globals {
		globals[k] = v
	}
	workflow := map[string]interface{}{
		"name":        p.Name,
		"description": p.Description,
	}
	functions := map[string]interface{}{}
	for k, v := range p.Functions {
		functions[k] = v
	}
	providers := map[string]interface{}{}
	for k, v := range p.Providers {
		providers[k] = v
	}

	return &Context{
		PipelineID:     p.Name,
		TraceID:        uuid.NewString(),
		StartTime:      time.Now(),
		Results:        make(map[string]interface{}),
		Inputs:         make(map[string]interface{}),
		Globals:        globals,
		Workflow:       workflow,
		Functions:      functions,
		Providers:      providers,
		VariableState:  make(map[string]interface{}),
		ExecutionLog:   make([]string, 0),
		ExecutionChain: []string{p.Name},
		NestingDepth:   0,
	}
}

// childOptions configures NewChild beyond the plain inherit/isolate split.
type childOptions struct {
	inherit       bool
	globalInclude []string
	globalExclude []string
	providerOverride map[string]interface{}
}

// NewChild builds a child Context for a nested-pipeline step (§4.2, §4.5).
// The child holds references to the parent's functions/providers (and,
// when inheriting, globals) rather than deep copies — those are
// read-only for the duration of execution (§5); only the child's own
// results/inputs/variable_state are owned exclusively by the child.
func (c *Context) NewChild(childName string, opts childOptions) *Context {
	child := &Context{
		Parent:         c,
		PipelineID:     childName,
		TraceID:        c.TraceID,
		StartTime:      time.Now(),
		Results:        make(map[string]interface{}),
		Inputs:         make(map[string]interface{}),
		Functions:      c.Functions,
		Providers:      c.Providers,
		VariableState:  make(map[string]interface{}),
		Workflow:       c.Workflow,
		ExecutionLog:   make([]string, 0),
		ExecutionChain: append(append([]string(nil), c.ExecutionChain...), childName),
		NestingDepth:   c.NestingDepth + 1,
	}

	if len(opts.providerOverride) > 0 {
		merged := make(map[string]interface{}, len(c.Providers)+len(opts.providerOverride))
		for k, v := range c.Providers {
			merged[k] = v
		}
		for k, v := range opts.providerOverride {
			merged[k] = v
		}
		child.Providers = merged
	}

	if !opts.inherit {
		child.Globals = make(map[string]interface{})
		return child
	}

	if len(opts.globalInclude) == 0 && len(opts.globalExclude) == 0 {
		child.Globals = c.Globals
		return child
	}

	child.Globals = filterGlobals(c.Globals, opts.globalInclude, opts.globalExclude)
	return child
}

func filterGlobals(src map[string]interface{}, include, exclude []string) map[string]interface{} {
	excluded := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		excluded[k] = true
	}

	out := make(map[string]interface{})
	if len(include) > 0 {
		for _, k := range include {
			if excluded[k] {
				continue
			}
			if v, ok := src[k]; ok {
				out[k] = v
			}
		}
		return out
	}

	for k, v := range src {
		if excluded[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// StoreResult inserts a step's result, failing if the name is already
// used at this nesting level (§3.1 invariant, §8.1 invariant 3).
func (c *Context) StoreResult(stepName string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.Results[stepName]; exists {
		return NewDuplicateStepName(c.ExecutionChain, stepName)
	}
	c.Results[stepName] = value
	c.ExecutionLog = append(c.ExecutionLog, stepName)
	return nil
}

// GetResult returns a step's stored result, or nil if absent.
func (c *Context) GetResult(stepName string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Results[stepName]
	return v, ok
}

// SnapshotResults returns a shallow copy of the results map, suitable for
// checkpointing (§4.8).
func (c *Context) SnapshotResults() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.Results))
	for k, v := range c.Results {
		out[k] = v
	}
	return out
}

// RestoreResults seeds the results map from a checkpoint (§4.8, open
// question 5: only results are replayed, execution_log stays ephemeral).
func (c *Context) RestoreResults(results map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range results {
		c.Results[k] = v
	}
}

// Fork creates an independent copy of the Context's mutable results for
// a parallel sibling (§5): each fork mutates only its own copy, and the
// dispatcher merges results back at the join point.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fork := &Context{
		Parent:         c.Parent,
		PipelineID:     c.PipelineID,
		TraceID:        c.TraceID,
		StartTime:      c.StartTime,
		Results:        make(map[string]interface{}, len(c.Results)),
		Inputs:         make(map[string]interface{}, len(c.Inputs)),
		Globals:        c.Globals,
		Workflow:       c.Workflow,
		Functions:      c.Functions,
		Providers:      c.Providers,
		VariableState:  make(map[string]interface{}, len(c.VariableState)),
		ExecutionLog:   make([]string, 0),
		ExecutionChain: append([]string(nil), c.ExecutionChain...),
		NestingDepth:   c.NestingDepth,
		StepIndex:      c.StepIndex,
	}
	for k, v := range c.Results {
		fork.Results[k] = v
	}
	for k, v := range c.Inputs {
		fork.Inputs[k] = v
	}
	for k, v := range c.VariableState {
		fork.VariableState[k] = v
	}
	return fork
}

// MergeFork copies a fork's newly-produced results back into c — used
// by parallel-join points once all siblings have completed.
func (c *Context) MergeFork(fork *Context, keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if v, ok := fork.Results[k]; ok {
			c.Results[k] = v
		}
	}
}

// pushSpan/popSpan track the current-span stack used to compute a new
// span's parent_id (§4.9).
func (c *Context) pushSpan(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentSpan = append(c.currentSpan, id)
}

func (c *Context) popSpan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.currentSpan) > 0 {
		c.currentSpan = c.currentSpan[:len(c.currentSpan)-1]
	}
}

func (c *Context) currentSpanID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.currentSpan) == 0 {
		return ""
	}
	return c.currentSpan[len(c.currentSpan)-1]
}

// Chain returns the root→current pipeline-id chain (§4.3).
func (c *Context) Chain() []string {
	return append([]string(nil), c.ExecutionChain...)
}
