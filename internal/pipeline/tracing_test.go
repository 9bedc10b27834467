// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_StartEndSpan_ParentLinkage(t *testing.T) {
	tr := NewTracer(nil)
	ctx := NewRoot(&Pipeline{Name: "p"})

	rootID := tr.StartSpan(ctx, "root-step")
	childID := tr.StartSpan(ctx, "child-step")
	tr.EndSpan(ctx, childID, SpanCompleted, "")
	tr.EndSpan(ctx, rootID, SpanCompleted, "")

	tree := tr.Tree(ctx.TraceID)
	require.Len(t, tree, 2)

	byID := map[string]*Span{}
	for _, s := range tree {
		byID[s.ID] = s
	}
	assert.Equal(t, "", byID[rootID].ParentID)
	assert.Equal(t, rootID, byID[childID].ParentID)
	// Both spans were started on the same root Context, so they share its
	// nesting depth.
	assert.Equal(t, 0, byID[childID].Depth)
}

func TestTracer_FailedSpansAndSearch(t *testing.T) {
	tr := NewTracer(nil)
	ctx := NewRoot(&Pipeline{Name: "p"})

	ok1 := tr.StartSpan(ctx, "fetch-data")
	tr.EndSpan(ctx, ok1, SpanCompleted, "")

	bad := tr.StartSpan(ctx, "call-provider")
	tr.EndSpan(ctx, bad, SpanFailed, "provider timeout")

	failed := tr.FailedSpans(ctx.TraceID)
	require.Len(t, failed, 1)
	assert.Equal(t, "call-provider", failed[0].StepName)

	found := tr.SearchSpans(ctx.TraceID, "timeout", SearchError)
	require.Len(t, found, 1)
	assert.Equal(t, bad, found[0].ID)

	byAny := tr.SearchSpans(ctx.TraceID, "fetch", SearchAny)
	require.Len(t, byAny, 1)
}

func TestTracer_SpansAtDepth(t *testing.T) {
	tr := NewTracer(nil)
	root := NewRoot(&Pipeline{Name: "p"})
	child := root.NewChild("nested", childOptions{inherit: true})

	s1 := tr.StartSpan(root, "a")
	tr.EndSpan(root, s1, SpanCompleted, "")
	s2 := tr.StartSpan(child, "b")
	tr.EndSpan(child, s2, SpanCompleted, "")

	assert.Len(t, tr.SpansAtDepth(root.TraceID, 0), 1)
	assert.Len(t, tr.SpansAtDepth(child.TraceID, 1), 1)
}

func TestTracer_Summary(t *testing.T) {
	tr := NewTracer(nil)
	ctx := NewRoot(&Pipeline{Name: "p"})

	a := tr.StartSpan(ctx, "a")
	tr.EndSpan(ctx, a, SpanCompleted, "")
	b := tr.StartSpan(ctx, "b")
	tr.EndSpan(ctx, b, SpanFailed, "boom")

	spans := tr.Tree(ctx.TraceID)
	spans[0].Metadata["tokens_used"] = 100
	spans[0].Metadata["cost_usd"] = 0.02

	keys := sortedKeys(spans[0].Metadata)
	assert.Equal(t, []string{"cost_usd", "tokens_used"}, keys)

	summary := tr.Summary(spans)
	assert.Equal(t, 0.5, summary.SuccessRate)
	assert.Equal(t, 100, summary.TotalTokens)
	assert.InDelta(t, 0.02, summary.TotalCostUSD, 0.0001)
}
