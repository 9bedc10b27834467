// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"runtime"
	"time"
)

// Guard enforces the recursion/cycle/step-count/resource limits
// described in §4.3. All failures it returns are terminal: they are
// never retried and always carry the full execution chain (§8.1
// invariant 5).
type Guard struct {
	limits      SafetyLimits
	totalSteps  int
	warnedSoft  bool
	onWarning   func(msg string, fields map[string]interface{})
}

// NewGuard constructs a Guard bound to a single root execution's limits.
func NewGuard(limits SafetyLimits, onWarning func(string, map[string]interface{})) *Guard {
	if onWarning == nil {
		onWarning = func(string, map[string]interface{}) {}
	}
	return &Guard{limits: limits, onWarning: onWarning}
}

// CheckDepth fails when nesting has reached the configured ceiling.
func (g *Guard) CheckDepth(ctx *Context) error {
	if ctx.NestingDepth >= g.limits.MaxNestingDepth {
		return NewSafetyError(ErrMaxNestingDepthExceeded, ctx.Chain(),
			fmt.Sprintf("nesting depth %d reached limit %d", ctx.NestingDepth, g.limits.MaxNestingDepth),
			map[string]interface{}{"current": ctx.NestingDepth, "limit": g.limits.MaxNestingDepth})
	}
	return nil
}

// CheckCycle fails when childPipelineID is already present in the
// execution chain (§8.1 invariant 7).
func (g *Guard) CheckCycle(ctx *Context, childPipelineID string) error {
	for _, ancestor := range ctx.ExecutionChain {
		if ancestor == childPipelineID {
			offending := append(ctx.Chain(), childPipelineID)
			return NewSafetyError(ErrCircularDependency, offending,
				fmt.Sprintf("pipeline %q already present in execution chain", childPipelineID),
				map[string]interface{}{"offender": childPipelineID})
		}
	}
	return nil
}

// CheckStepCount fails once the cumulative step count across the root
// execution exceeds the configured ceiling.
func (g *Guard) CheckStepCount(ctx *Context) error {
	g.totalSteps++
	if g.totalSteps > g.limits.MaxTotalSteps {
		return NewSafetyError(ErrStepCountExceeded, ctx.Chain(),
			fmt.Sprintf("total step count %d exceeded limit %d", g.totalSteps, g.limits.MaxTotalSteps),
			map[string]interface{}{"current": g.totalSteps, "limit": g.limits.MaxTotalSteps})
	}
	return nil
}

// CheckResources fails when current process memory or elapsed time
// passes the hard threshold; it emits a warning once the soft
// (WarningThresholds fraction) threshold is crossed.
func (g *Guard) CheckResources(ctx *Context) error {
	elapsed := time.Since(ctx.StartTime)
	if g.limits.TimeoutMs > 0 {
		limit := time.Duration(g.limits.TimeoutMs) * time.Millisecond
		soft := time.Duration(float64(limit) * g.limits.WarningThresholds)
		if elapsed >= limit {
			return NewSafetyError(ErrTimeout, ctx.Chain(),
				fmt.Sprintf("elapsed %s exceeded timeout %s", elapsed, limit), nil)
		}
		if elapsed >= soft && !g.warnedSoft {
			g.warnedSoft = true
			g.onWarning("approaching pipeline timeout", map[string]interface{}{
				"elapsed_ms": elapsed.Milliseconds(), "limit_ms": g.limits.TimeoutMs,
			})
		}
	}

	if g.limits.MemoryLimitBytes > 0 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		soft := uint64(float64(g.limits.MemoryLimitBytes) * g.limits.WarningThresholds)
		if m.Alloc >= g.limits.MemoryLimitBytes {
			return NewSafetyError(ErrMemoryExceeded, ctx.Chain(),
				fmt.Sprintf("allocated memory %d exceeded limit %d", m.Alloc, g.limits.MemoryLimitBytes), nil)
		}
		if m.Alloc >= soft {
			g.onWarning("approaching pipeline memory limit", map[string]interface{}{
				"alloc_bytes": m.Alloc, "limit_bytes": g.limits.MemoryLimitBytes,
			})
		}
	}

	return nil
}

// Chain returns the root→current pipeline chain for diagnostics.
func (g *Guard) Chain(ctx *Context) []string { return ctx.Chain() }
