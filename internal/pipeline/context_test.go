// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoot(t *testing.T) {
	p := &Pipeline{Name: "root-pipe", Globals: map[string]interface{}{"env": "prod"}}
	ctx := NewRoot(p)

	assert.Equal(t, "root-pipe", ctx.PipelineID)
	assert.Equal(t, []string{"root-pipe"}, ctx.ExecutionChain)
	assert.Equal(t, 0, ctx.NestingDepth)
	assert.Equal(t, "prod", ctx.Globals["env"])
	assert.NotEmpty(t, ctx.TraceID)
}

func TestStoreResult_DuplicateFails(t *testing.T) {
	ctx := NewRoot(&Pipeline{Name: "p"})

	require.NoError(t, ctx.StoreResult("A", 1))
	err := ctx.StoreResult("A", 2)

	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrDuplicateStepName, pe.Kind)

	v, ok := ctx.GetResult("A")
	assert.True(t, ok)
	assert.Equal(t, 1, v) // invariant 3: first store_result wins
}

func TestNewChild_InheritSharesGlobalsByReference(t *testing.T) {
	p := &Pipeline{Name: "parent", Globals: map[string]interface{}{"tier": "gold"}}
	parent := NewRoot(p)

	child := parent.NewChild("child", childOptions{inherit: true})

	assert.Equal(t, parent.Globals, child.Globals)
	assert.Equal(t, 1, child.NestingDepth)
	assert.Equal(t, []string{"parent", "child"}, child.ExecutionChain)
	assert.Equal(t, parent.Providers, child.Providers)
}

func TestNewChild_IsolatedHasEmptyGlobals(t *testing.T) {
	p := &Pipeline{Name: "parent", Globals: map[string]interface{}{"tier": "gold"}}
	parent := NewRoot(p)

	child := parent.NewChild("child", childOptions{inherit: false})

	assert.Empty(t, child.Globals)
}

func TestNewChild_SelectiveInheritance(t *testing.T) {
	p := &Pipeline{Name: "parent", Globals: map[string]interface{}{
		"a": 1, "b": 2, "c": 3,
	}}
	parent := NewRoot(p)

	child := parent.NewChild("child", childOptions{
		inherit:       true,
		globalInclude: []string{"a", "b"},
		globalExclude: []string{"b"},
	})

	assert.Equal(t, map[string]interface{}{"a": 1}, child.Globals)
}

func TestIsolation_ParentUnaffectedByChild(t *testing.T) {
	p := &Pipeline{Name: "parent"}
	parent := NewRoot(p)
	require.NoError(t, parent.StoreResult("before", "x"))

	child := parent.NewChild("child", childOptions{inherit: false})
	require.NoError(t, child.StoreResult("childstep", "y"))

	// invariant 2: parent results unaffected by child-level stores
	v, ok := parent.GetResult("before")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = parent.GetResult("childstep")
	assert.False(t, ok)
}

func TestForkAndMerge(t *testing.T) {
	parent := NewRoot(&Pipeline{Name: "p"})
	require.NoError(t, parent.StoreResult("seed", "v"))

	fork := parent.Fork()
	require.NoError(t, fork.StoreResult("leaf", 42))

	parent.MergeFork(fork, []string{"leaf"})

	v, ok := parent.GetResult("leaf")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestSpanStack(t *testing.T) {
	ctx := NewRoot(&Pipeline{Name: "p"})
	assert.Equal(t, "", ctx.currentSpanID())

	ctx.pushSpan("s1")
	ctx.pushSpan("s2")
	assert.Equal(t, "s2", ctx.currentSpanID())

	ctx.popSpan()
	assert.Equal(t, "s1", ctx.currentSpanID())
}
