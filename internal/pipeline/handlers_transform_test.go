// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemsFixture() []interface{} {
	return []interface{}{
		map[string]interface{}{"name": "a", "score": 10.0},
		map[string]interface{}{"name": "b", "score": 20.0},
		map[string]interface{}{"name": "c", "score": 10.0},
	}
}

func TestDataTransform_FilterByFieldEquals(t *testing.T) {
	d := newTestDispatcher(nil)
	p := &Pipeline{
		Name:    "transform-filter",
		Globals: map[string]interface{}{"items": itemsFixture()},
		Steps: []*Step{
			{
				Name:           "filtered",
				Type:           StepTransform,
				TransformField: "{{global_vars.items}}",
				Operations: []Operation{
					{Kind: "filter", Args: map[string]interface{}{"field": "score", "equals": 10.0}},
				},
			},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)

	list := results["filtered"].([]interface{})
	assert.Len(t, list, 2)
}

func TestDataTransform_AggregateCountSumAvg(t *testing.T) {
	for _, tc := range []struct {
		fn       string
		expected interface{}
	}{
		{"count", 3},
		{"sum", 40.0},
		{"avg", 40.0 / 3},
	} {
		t.Run(tc.fn, func(t *testing.T) {
			d := newTestDispatcher(nil)
			p := &Pipeline{
				Name:    "transform-agg-" + tc.fn,
				Globals: map[string]interface{}{"items": itemsFixture()},
				Steps: []*Step{
					{
						Name:           "agg",
						Type:           StepTransform,
						TransformField: "{{global_vars.items}}",
						Operations: []Operation{
							{Kind: "aggregate", Args: map[string]interface{}{"func": tc.fn, "field": "score"}},
						},
					},
				},
			}
			ctx := NewRoot(p)

			results, err := d.Run(context.Background(), p, ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, results["agg"])
		})
	}
}

func TestDataTransform_JoinWithField(t *testing.T) {
	d := newTestDispatcher(nil)
	p := &Pipeline{
		Name:    "transform-join",
		Globals: map[string]interface{}{"items": itemsFixture()},
		Steps: []*Step{
			{
				Name:           "joined",
				Type:           StepTransform,
				TransformField: "{{global_vars.items}}",
				Operations: []Operation{
					{Kind: "join", Args: map[string]interface{}{"field": "name", "separator": ","}},
				},
			},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", results["joined"])
}

func TestDataTransform_ChainedFilterThenAggregate(t *testing.T) {
	d := newTestDispatcher(nil)
	p := &Pipeline{
		Name:    "transform-chain",
		Globals: map[string]interface{}{"items": itemsFixture()},
		Steps: []*Step{
			{
				Name:           "chained",
				Type:           StepTransform,
				TransformField: "{{global_vars.items}}",
				Operations: []Operation{
					{Kind: "filter", Args: map[string]interface{}{"field": "score", "equals": 10.0}},
					{Kind: "aggregate", Args: map[string]interface{}{"func": "count"}},
				},
			},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, results["chained"])
}

func TestDataTransform_UnknownOperationIsInternalError(t *testing.T) {
	d := newTestDispatcher(nil)
	p := &Pipeline{
		Name:    "transform-bad",
		Globals: map[string]interface{}{"items": itemsFixture()},
		Steps: []*Step{
			{
				Name:           "bad",
				Type:           StepTransform,
				TransformField: "{{global_vars.items}}",
				Operations:     []Operation{{Kind: "mystery"}},
			},
		},
	}
	ctx := NewRoot(p)

	_, err := d.Run(context.Background(), p, ctx, 0)
	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrInternal, pe.Kind)
}

func TestExplicitCheckpoint_WritesEvenWhenPipelineCheckpointingDisabled(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	d := newTestDispatcher(nil)
	d.Checkpoints = store
	p := &Pipeline{
		Name: "explicit-cp",
		Steps: []*Step{
			{Name: "a", Type: StepSetVariable, VariableName: "a", VariableValue: "1"},
			{Name: "cp", Type: StepCheckpoint},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"checkpointed": true}, results["cp"])

	cp, err := store.ReadLatest("explicit-cp")
	require.NoError(t, err)
	require.NotNil(t, cp)
}

func TestExplicitCheckpoint_NoStoreConfiguredReportsFalse(t *testing.T) {
	d := newTestDispatcher(nil)
	p := &Pipeline{
		Name: "no-store",
		Steps: []*Step{
			{Name: "cp", Type: StepCheckpoint},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"checkpointed": false}, results["cp"])
}
