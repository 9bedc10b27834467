// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunProviderCall_InjectsPreviousResults(t *testing.T) {
	d := newTestDispatcher(nil)
	var seenPrompt string
	d.Providers.Register("echo", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		seenPrompt = prompt
		return ProviderResult{Text: "ok"}, nil
	}))

	p := &Pipeline{
		Name: "inject",
		Steps: []*Step{
			{Name: "first", Type: StepSetVariable, VariableName: "x", VariableValue: "hello"},
			{
				Name:                  "ask",
				Type:                  StepProvider,
				ProviderID:            "echo",
				Prompt:                []PromptElement{{Kind: "static", Content: "summarize: "}},
				InjectPreviousResults: true,
			},
		},
	}
	ctx := NewRoot(p)

	_, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, seenPrompt, "summarize: ")
	assert.Contains(t, seenPrompt, "first: hello")
}

func TestRunParallelProvider_PartialFailureDefaultsToFail(t *testing.T) {
	d := newTestDispatcher(nil)
	d.Providers.Register("ok", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		return ProviderResult{Text: "good"}, nil
	}))
	d.Providers.Register("bad", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		return ProviderResult{}, assertErr
	}))

	p := &Pipeline{
		Name: "fanout",
		Steps: []*Step{
			{
				Name: "fanout",
				Type: StepParallelProvider,
				Providers: []ParallelCall{
					{Name: "a", ProviderID: "ok"},
					{Name: "b", ProviderID: "bad"},
				},
			},
		},
	}
	ctx := NewRoot(p)

	_, err := d.Run(context.Background(), p, ctx, 0)
	require.Error(t, err)
}

func TestRunParallelProvider_TolerateKeepsPartialResults(t *testing.T) {
	d := newTestDispatcher(nil)
	d.Providers.Register("ok", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		return ProviderResult{Text: "good"}, nil
	}))
	d.Providers.Register("bad", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		return ProviderResult{}, assertErr
	}))

	p := &Pipeline{
		Name: "fanout",
		Steps: []*Step{
			{
				Name:             "fanout",
				Type:             StepParallelProvider,
				OnPartialFailure: "tolerate",
				Providers: []ParallelCall{
					{Name: "a", ProviderID: "ok"},
					{Name: "b", ProviderID: "bad"},
				},
			},
		},
	}
	ctx := NewRoot(p)

	results, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)

	list, ok := results["fanout"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	second, ok := list[1].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, second, "error")
}

// TestRunProviderCall_RecordsUsageIntoSpanAndSummary confirms a
// provider that reports tokens_in/tokens_out/model feeds the cost
// tracker and shows up in the span's metadata and the final
// PerformanceSummary, closing the loop the review flagged as dead.
func TestRunProviderCall_RecordsUsageIntoSpanAndSummary(t *testing.T) {
	d := newTestDispatcher(nil)
	d.Providers.Register("anthropic", ProviderFunc(func(ctx context.Context, providerID string, options map[string]interface{}, prompt string, ctxView map[string]interface{}) (ProviderResult, error) {
		return ProviderResult{
			Text: "ok",
			Metadata: map[string]interface{}{
				"tokens_in":  100,
				"tokens_out": 50,
				"model":      "claude-3-5-haiku",
			},
		}, nil
	}))

	p := &Pipeline{
		Name: "priced",
		Steps: []*Step{
			{Name: "ask", Type: StepProvider, ProviderID: "anthropic", Prompt: []PromptElement{{Kind: "static", Content: "hi"}}},
		},
	}
	ctx := NewRoot(p)

	_, err := d.Run(context.Background(), p, ctx, 0)
	require.NoError(t, err)

	records := d.Costs.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "ask", records[0].Step)
	assert.Equal(t, "anthropic", records[0].Provider)
	assert.Equal(t, 150, records[0].TokensIn+records[0].TokensOut)

	spans := d.Tracer.Tree(ctx.TraceID)
	require.Len(t, spans, 1)
	assert.Equal(t, 150, spans[0].Metadata["tokens_used"])
	assert.Greater(t, spans[0].Metadata["cost_usd"].(float64), 0.0)

	summary := d.Tracer.Summary(spans)
	assert.Equal(t, 150, summary.TotalTokens)
	assert.Greater(t, summary.TotalCostUSD, 0.0)
}

var assertErr = &staticErr{"provider failed"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
