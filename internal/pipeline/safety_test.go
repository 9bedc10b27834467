// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDepth(t *testing.T) {
	limits := DefaultSafetyLimits()
	limits.MaxNestingDepth = 2
	guard := NewGuard(limits, nil)

	ctx := NewRoot(&Pipeline{Name: "p"})
	ctx.NestingDepth = 2

	err := guard.CheckDepth(ctx)
	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrMaxNestingDepthExceeded, pe.Kind)
	assert.True(t, IsTerminal(pe.Kind))
}

func TestCheckCycle(t *testing.T) {
	limits := DefaultSafetyLimits()
	guard := NewGuard(limits, nil)

	ctx := NewRoot(&Pipeline{Name: "a"})
	ctx.ExecutionChain = []string{"a", "b"}

	err := guard.CheckCycle(ctx, "a")
	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCircularDependency, pe.Kind)
	assert.Equal(t, []string{"a", "b", "a"}, pe.Chain)

	assert.NoError(t, guard.CheckCycle(ctx, "c"))
}

func TestCheckStepCount(t *testing.T) {
	limits := DefaultSafetyLimits()
	limits.MaxTotalSteps = 2
	guard := NewGuard(limits, nil)
	ctx := NewRoot(&Pipeline{Name: "p"})

	require.NoError(t, guard.CheckStepCount(ctx))
	require.NoError(t, guard.CheckStepCount(ctx))

	err := guard.CheckStepCount(ctx)
	require.Error(t, err)
	pe, _ := AsError(err)
	assert.Equal(t, ErrStepCountExceeded, pe.Kind)
}

func TestCheckResources_DisabledTimeoutNeitherWarnsNorFails(t *testing.T) {
	limits := SafetyLimits{TimeoutMs: 0, WarningThresholds: 0.5}
	var warned bool
	guard := NewGuard(limits, func(msg string, fields map[string]interface{}) {
		warned = true
	})
	ctx := NewRoot(&Pipeline{Name: "p"})

	require.NoError(t, guard.CheckResources(ctx))
	assert.False(t, warned) // timeout disabled, no elapsed check performed
}
