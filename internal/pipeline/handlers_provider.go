// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runProviderCall dispatches a single provider_call step (§4.4, §6.2).
func runProviderCall(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	provider, ok := d.Providers.Resolve(step.ProviderID)
	if !ok {
		return nil, NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("unregistered provider_id %q", step.ProviderID))
	}

	prompt, err := assemblePrompt(step.Prompt, pctx, d.Resolver)
	if err != nil {
		return nil, NewProviderError(pctx.Chain(), step.Name, err)
	}
	if step.InjectPreviousResults {
		prompt += previousResultsContext(pctx)
	}

	resolvedOptions := resolveOptions(step.ProviderOptions, pctx, d.Resolver)

	res, err := provider.Call(ctx, step.ProviderID, resolvedOptions, prompt, pctx.SnapshotResults())
	if err != nil {
		return nil, NewProviderError(pctx.Chain(), step.Name, err)
	}
	recordProviderUsage(d, pctx, step.Name, step.ProviderID, res.Metadata)
	return providerResultToValue(res), nil
}

// recordProviderUsage reads tokens_in/tokens_out/model out of a
// ProviderResult's metadata (§6.2) and folds the resulting cost into
// the Dispatcher's Tracker and the step's current span, for the
// debug/final PerformanceSummary's TotalTokens/TotalCostUSD (SUPPLEMENTED
// FEATURES: cost/usage accounting). A call that reports no usage is a
// no-op.
func recordProviderUsage(d *Dispatcher, pctx *Context, step, providerID string, meta map[string]interface{}) {
	tokensIn, hasIn := meta["tokens_in"].(int)
	tokensOut, hasOut := meta["tokens_out"].(int)
	if !hasIn && !hasOut {
		return
	}
	model, _ := meta["model"].(string)
	rec := d.Costs.Record(step, providerID, model, tokensIn, tokensOut)
	d.Tracer.RecordUsage(pctx.currentSpanID(), tokensIn+tokensOut, rec.CostUSD)
}

// runParallelProvider launches every ParallelCall concurrently against
// a read-only snapshot of the parent Context and joins them into an
// ordered list (§5). Sibling failures are tolerated per
// on_partial_failure; by default any sibling failure fails the whole
// step.
func runParallelProvider(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	snapshot := pctx.SnapshotResults()
	results := make([]interface{}, len(step.Providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range step.Providers {
		i, call := i, call
		g.Go(func() error {
			provider, ok := d.Providers.Resolve(call.ProviderID)
			if !ok {
				return NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("unregistered provider_id %q", call.ProviderID))
			}
			prompt, err := assemblePrompt(call.Prompt, pctx, d.Resolver)
			if err != nil {
				return NewProviderError(pctx.Chain(), step.Name, err)
			}
			opts := resolveOptions(call.ProviderOptions, pctx, d.Resolver)
			res, err := provider.Call(gctx, call.ProviderID, opts, prompt, snapshot)
			if err != nil {
				if step.OnPartialFailure == "tolerate" {
					results[i] = map[string]interface{}{"name": call.Name, "error": err.Error()}
					return nil
				}
				return NewProviderError(pctx.Chain(), step.Name, err)
			}
			recordProviderUsage(d, pctx, call.Name, call.ProviderID, res.Metadata)
			out := providerResultToValue(res)
			if m, ok := out.(map[string]interface{}); ok {
				m["name"] = call.Name
				results[i] = m
			} else {
				results[i] = map[string]interface{}{"name": call.Name, "result": out}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func providerResultToValue(res ProviderResult) interface{} {
	if res.Data != nil {
		return res.Data
	}
	return map[string]interface{}{"text": res.Text, "metadata": res.Metadata}
}

func resolveOptions(options map[string]interface{}, pctx *Context, r *Resolver) map[string]interface{} {
	out := make(map[string]interface{}, len(options))
	for k, v := range options {
		if s, ok := v.(string); ok {
			out[k] = r.Resolve(s, pctx)
			continue
		}
		out[k] = v
	}
	return out
}

// assemblePrompt flattens a step's PromptElement list into the text
// handed to Provider.Call (§3.1).
func assemblePrompt(elements []PromptElement, pctx *Context, r *Resolver) (string, error) {
	var out string
	for _, el := range elements {
		switch el.Kind {
		case "static":
			out += r.ResolveString(el.Content, pctx)
		case "previous_response":
			result, ok := pctx.GetResult(el.Step)
			if !ok {
				return "", fmt.Errorf("previous_response references unknown step %q", el.Step)
			}
			result = unwrapResultEnvelope(result)
			text := stringify(result)
			if el.Extract != "" {
				if v, ok := traverse(result, splitDots(el.Extract)); ok {
					text = stringify(v)
				}
			}
			if el.MaxLength > 0 && len(text) > el.MaxLength {
				text = text[:el.MaxLength]
			}
			out += text
		case "file":
			content, err := readTemplateFile(el.Path, el.Vars, pctx, r)
			if err != nil {
				return "", err
			}
			out += content
		case "session_context":
			// Session history is an external collaborator concern (host
			// application owns the session store); the core only
			// reserves the placeholder slot in the assembled prompt.
			out += fmt.Sprintf("[session:%s last %d]", el.SessionID, el.IncludeLastN)
		case "claude_continue":
			out += r.ResolveString(el.NewPrompt, pctx)
		}
	}
	return out, nil
}

// previousResultsContext renders every step result completed so far as
// a plain-text transcript, for a step that opts in via
// inject_previous_results instead of wiring each field by hand.
func previousResultsContext(pctx *Context) string {
	snapshot := pctx.SnapshotResults()
	if len(snapshot) == 0 {
		return ""
	}
	out := "\n\n--- prior step results ---\n"
	for _, name := range sortedKeys(snapshot) {
		out += fmt.Sprintf("%s: %s\n", name, stringify(unwrapResultEnvelope(snapshot[name])))
	}
	return out
}

func splitDots(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
