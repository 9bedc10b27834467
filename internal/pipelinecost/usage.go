// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipelinecost

import "sync"

// Record is one provider call's usage, read off a ProviderResult's
// metadata by the dispatcher after each provider_call/parallel_provider
// call and handed to the Tracker.
type Record struct {
	Step      string
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Tracker accumulates usage records across a single pipeline execution.
// It is safe for concurrent use since parallel_provider fans out
// multiple provider calls at once.
type Tracker struct {
	mu      sync.Mutex
	pricing *PricingTable
	records []Record
}

// NewTracker constructs a Tracker against a pricing table (DefaultPricing
// unless the caller supplies one loaded via LoadPricingFromFile).
func NewTracker(pricing *PricingTable) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{pricing: pricing}
}

// Record computes cost for a provider call and appends it to the
// execution's usage history.
func (t *Tracker) Record(step, provider, model string, tokensIn, tokensOut int) Record {
	rec := Record{
		Step: step, Provider: provider, Model: model,
		TokensIn: tokensIn, TokensOut: tokensOut,
		CostUSD: t.pricing.CalculateCost(provider, model, tokensIn, tokensOut),
	}
	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
	return rec
}

// Summary totals tokens and cost across every recorded call, the
// figures surfaced in the execution's final PerformanceSummary.
func (t *Tracker) Summary() (totalTokens int, totalCostUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		totalTokens += r.TokensIn + r.TokensOut
		totalCostUSD += r.CostUSD
	}
	return totalTokens, totalCostUSD
}

// Records returns a copy of the accumulated usage history.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}
