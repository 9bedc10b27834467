// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Tracer owns the append-once span tree for one execution and mirrors
// span lifecycle events onto a Prometheus registry (§4.9, DOMAIN STACK).
// No span is written after its pipeline returns; there is no
// cross-execution span sharing.
type Tracer struct {
	mu    sync.Mutex
	spans map[string]*Span
	order []string

	metrics *tracerMetrics
}

type tracerMetrics struct {
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	nestingDepth  prometheus.Histogram
}

// NewTracer constructs a Tracer. reg may be nil, in which case metrics
// are created but never registered (useful for isolated tests).
func NewTracer(reg prometheus.Registerer) *Tracer {
	m := &tracerMetrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_steps_total",
			Help: "Total number of pipeline steps executed, by status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Pipeline step execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		nestingDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_nesting_depth",
			Help:    "Nesting depth at span creation.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10, 15, 20},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.stepsTotal, m.stepDuration, m.nestingDepth)
	}
	return &Tracer{spans: make(map[string]*Span), metrics: m}
}

// StartSpan opens a span for a step invocation, linking it to the
// current span (if any) via ParentID (§4.9).
func (t *Tracer) StartSpan(ctx *Context, stepName string) string {
	id := uuid.NewString()
	span := &Span{
		ID:         id,
		ParentID:   ctx.currentSpanID(),
		PipelineID: ctx.PipelineID,
		StepName:   stepName,
		StartTime:  time.Now(),
		Status:     SpanRunning,
		Depth:      ctx.NestingDepth,
		Metadata:   map[string]interface{}{},
	}

	t.mu.Lock()
	t.spans[id] = span
	t.order = append(t.order, id)
	t.mu.Unlock()

	ctx.pushSpan(id)
	t.metrics.nestingDepth.Observe(float64(ctx.NestingDepth))
	return id
}

// EndSpan closes a span, recording its outcome.
func (t *Tracer) EndSpan(ctx *Context, spanID string, status SpanStatus, errMsg string) {
	t.mu.Lock()
	span, ok := t.spans[spanID]
	if ok {
		span.EndTime = time.Now()
		span.DurationMs = span.EndTime.Sub(span.StartTime).Milliseconds()
		span.Status = status
		span.Error = errMsg
	}
	t.mu.Unlock()

	ctx.popSpan()

	if ok {
		t.metrics.stepsTotal.WithLabelValues(string(status)).Inc()
		t.metrics.stepDuration.WithLabelValues(span.StepName).Observe(time.Since(span.StartTime).Seconds())
	}
}

// RecordUsage folds provider usage into the given span's metadata
// (§4.9, SUPPLEMENTED FEATURES: cost/usage accounting). It accumulates
// rather than overwrites, since parallel_provider can record multiple
// calls against the same step span.
func (t *Tracer) RecordUsage(spanID string, tokensUsed int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, ok := t.spans[spanID]
	if !ok {
		return
	}
	if tok, ok := span.Metadata["tokens_used"].(int); ok {
		tokensUsed += tok
	}
	if cost, ok := span.Metadata["cost_usd"].(float64); ok {
		costUSD += cost
	}
	span.Metadata["tokens_used"] = tokensUsed
	span.Metadata["cost_usd"] = costUSD
}

// Tree returns every span this Tracer recorded as a flat list in
// creation order (§6.5); the tree shape is carried by each span's
// ParentID. Spans are not grouped by parent, and traceID is not used to
// filter them, since one Tracer serves one execution.
func (t *Tracer) Tree(traceID string) []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Span, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.spans[id])
	}
	return out
}

// SpansAtDepth filters the tree to a given depth.
func (t *Tracer) SpansAtDepth(traceID string, depth int) []*Span {
	var out []*Span
	for _, s := range t.Tree(traceID) {
		if s.Depth == depth {
			out = append(out, s)
		}
	}
	return out
}

// FailedSpans returns every span whose status is failed.
func (t *Tracer) FailedSpans(traceID string) []*Span {
	var out []*Span
	for _, s := range t.Tree(traceID) {
		if s.Status == SpanFailed {
			out = append(out, s)
		}
	}
	return out
}

// SearchField selects which span field SearchSpans matches against.
type SearchField string

const (
	SearchPipelineID SearchField = "pipeline_id"
	SearchStepName   SearchField = "step_name"
	SearchError      SearchField = "error"
	SearchAny        SearchField = "any"
)

// SearchSpans returns spans whose field contains pattern as a substring.
func (t *Tracer) SearchSpans(traceID, pattern string, field SearchField) []*Span {
	var out []*Span
	for _, s := range t.Tree(traceID) {
		var haystacks []string
		switch field {
		case SearchPipelineID:
			haystacks = []string{s.PipelineID}
		case SearchStepName:
			haystacks = []string{s.StepName}
		case SearchError:
			haystacks = []string{s.Error}
		default:
			haystacks = []string{s.PipelineID, s.StepName, s.Error}
		}
		for _, h := range haystacks {
			if contains(h, pattern) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// PerformanceSummary aggregates a span tree for the debug surface and
// final execution report (§6.5, SUPPLEMENTED FEATURES: extended with
// token/cost totals mirroring the teacher's replay summary).
type PerformanceSummary struct {
	TotalDurationMs int64
	SuccessRate     float64
	MaxDepth        int
	Bottleneck      string
	TotalTokens     int
	TotalCostUSD    float64
}

// Summary computes a PerformanceSummary over the given span tree.
func (t *Tracer) Summary(spans []*Span) PerformanceSummary {
	if len(spans) == 0 {
		return PerformanceSummary{}
	}

	var start, end time.Time
	completed := 0
	var bottleneck *Span
	maxDepth := 0
	var totalTokens int
	var totalCost float64

	for i, s := range spans {
		if i == 0 || s.StartTime.Before(start) {
			start = s.StartTime
		}
		if s.EndTime.After(end) {
			end = s.EndTime
		}
		if s.Status == SpanCompleted {
			completed++
		}
		if s.Depth > maxDepth {
			maxDepth = s.Depth
		}
		if bottleneck == nil || s.DurationMs > bottleneck.DurationMs {
			bottleneck = s
		}
		if tok, ok := s.Metadata["tokens_used"].(int); ok {
			totalTokens += tok
		}
		if cost, ok := s.Metadata["cost_usd"].(float64); ok {
			totalCost += cost
		}
	}

	summary := PerformanceSummary{
		TotalDurationMs: end.Sub(start).Milliseconds(),
		SuccessRate:     float64(completed) / float64(len(spans)),
		MaxDepth:        maxDepth,
		TotalTokens:     totalTokens,
		TotalCostUSD:    totalCost,
	}
	if bottleneck != nil {
		summary.Bottleneck = bottleneck.StepName
	}
	return summary
}

// sortedKeys gives deterministic iteration order over a result/metadata
// map, used by inject_previous_results rendering and span inspection.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
