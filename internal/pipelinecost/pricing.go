// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

// Package pipelinecost tracks token usage and USD cost across a
// pipeline execution's provider calls, adapted from the teacher's
// budget/pricing subsystem down to the pieces a pipeline run actually
// needs: per-model pricing lookup and a running usage accumulator. The
// full budget/alerting/Postgres-backed surface is a SaaS control-plane
// concern outside a single execution's scope (see DESIGN.md).
package pipelinecost

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// ModelPricing is USD cost per 1K tokens for one model.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// PricingTable holds pricing for every provider/model pair known to
// this execution.
type PricingTable struct {
	mu        sync.RWMutex
	Providers map[string]map[string]ModelPricing `json:"providers"`
}

// DefaultPricing mirrors a representative slice of the teacher's
// DefaultPricing table: enough providers/models to exercise cost
// tracking without carrying its full catalog.
var DefaultPricing = &PricingTable{
	Providers: map[string]map[string]ModelPricing{
		"anthropic": {
			"claude-opus-4":      {InputPer1K: 0.015, OutputPer1K: 0.075},
			"claude-sonnet-4":    {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-haiku":   {InputPer1K: 0.0008, OutputPer1K: 0.004},
			"*":                  {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
		"openai": {
			"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"*":           {InputPer1K: 0.01, OutputPer1K: 0.03},
		},
	},
}

// LoadPricingFromFile reads a JSON pricing table from path, used when a
// pipeline's provider options name models outside DefaultPricing.
func LoadPricingFromFile(path string) (*PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table := &PricingTable{Providers: make(map[string]map[string]ModelPricing)}
	if err := json.Unmarshal(data, table); err != nil {
		return nil, err
	}
	return table, nil
}

// CalculateCost returns the USD cost of tokensIn/tokensOut against
// provider/model, falling back to the provider's "*" wildcard entry
// when the exact model is not listed.
func (t *PricingTable) CalculateCost(provider, model string, tokensIn, tokensOut int) float64 {
	pricing, ok := t.GetModelPricing(provider, model)
	if !ok {
		return 0
	}
	return (float64(tokensIn)/1000.0)*pricing.InputPer1K + (float64(tokensOut)/1000.0)*pricing.OutputPer1K
}

// GetModelPricing looks up provider/model, falling back to "*".
func (t *PricingTable) GetModelPricing(provider, model string) (ModelPricing, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	models, ok := t.Providers[strings.ToLower(provider)]
	if !ok {
		return ModelPricing{}, false
	}
	if p, ok := models[model]; ok {
		return p, true
	}
	if p, ok := models["*"]; ok {
		return p, true
	}
	return ModelPricing{}, false
}
