// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// Retrier executes a step function under a RetryPolicy, classifying
// failures and applying the configured backoff curve (§4.6). It is
// adapted from the teacher's sdk.RetryWithBackoff/CircuitBreaker pair:
// the same attempt loop and jitter treatment, generalized to the three
// pipeline backoff kinds and four retry conditions instead of a single
// fixed exponential curve.
type Retrier struct {
	policy    RetryPolicy
	onAttempt func(attempt int, err error, waited time.Duration)
}

// NewRetrier constructs a Retrier for one step's RetryPolicy, filling
// in unset fields: a 1000 ms base delay and a 5 minute delay ceiling.
func NewRetrier(policy RetryPolicy, onAttempt func(int, error, time.Duration)) *Retrier {
	if onAttempt == nil {
		onAttempt = func(int, error, time.Duration) {}
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelayMs <= 0 {
		policy.BaseDelayMs = 1000
	}
	if policy.MaxDelayMs <= 0 {
		policy.MaxDelayMs = 5 * 60 * 1000 // 5 minute ceiling, §4.6
	}
	return &Retrier{policy: policy, onAttempt: onAttempt}
}

// AttemptInfo records metadata about one attempt for inclusion in the
// final error envelope or step trace (§4.6).
type AttemptInfo struct {
	Attempt   int
	Error     error
	Condition RetryCondition
	WaitedMs  int64
}

// Do runs fn for one initial attempt plus up to MaxRetries retries
// (§4.6: max_retries=2 yields 3 total attempts, per the teacher's
// `attempt <= config.MaxRetries` loop bound), retrying until it
// succeeds, a non-retryable error is hit, attempts are exhausted, or
// ctx is cancelled. It returns the last result/error along with the
// full attempt history. A non-nil fallback result on exhaustion is
// returned as the result with a nil error.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context, int) (interface{}, error)) (interface{}, error, []AttemptInfo) {
	conditions := r.policy.conditionSet()
	var history []AttemptInfo
	maxAttempts := r.policy.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil, history
		}

		cond := classifyError(err)
		history = append(history, AttemptInfo{Attempt: attempt, Error: err, Condition: cond})

		if pe, ok := AsError(err); ok && IsTerminal(pe.Kind) {
			return nil, err, history
		}
		if !conditions[cond] {
			return nil, err, history
		}
		if attempt == maxAttempts-1 {
			if fb, ok := r.applyFallback(ctx, err, history); ok {
				return fb, nil, history
			}
			return nil, err, history
		}

		wait := r.backoff(attempt)
		r.onAttempt(attempt, err, wait)
		history[len(history)-1].WaitedMs = wait.Milliseconds()

		select {
		case <-ctx.Done():
			return nil, ctx.Err(), history
		case <-time.After(wait):
		}
	}

	if fb, ok := r.applyFallback(ctx, nil, history); ok {
		return fb, nil, history
	}
	return nil, NewInternal(nil, "", "retries exhausted with no fallback configured"), history
}

// backoff computes the wait before the given attempt index (0-based,
// the delay before attempt+1) per §4.6's three curves, capped at
// MaxDelayMs and jittered the way the teacher's RetryWithBackoff does.
func (r *Retrier) backoff(attempt int) time.Duration {
	base := float64(r.policy.BaseDelayMs)
	var ms float64

	switch r.policy.Backoff {
	case BackoffExponential:
		ms = base * pow2(attempt)
	case BackoffLinear:
		ms = base * float64(attempt+1)
	case BackoffFixed:
		ms = base
	default:
		ms = base * pow2(attempt)
	}

	if ms > float64(r.policy.MaxDelayMs) {
		ms = float64(r.policy.MaxDelayMs)
	}

	const jitterFraction = 0.1
	delta := ms * jitterFraction
	ms += (rand.Float64() * 2 * delta) - delta
	if ms < 0 {
		ms = 0
	}

	return time.Duration(ms) * time.Millisecond
}

func pow2(exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= 2
	}
	return result
}

// applyFallback resolves the policy's configured FallbackAction once
// retries are exhausted (§4.6), attaching the {attempt_number,
// total_attempts, execution_time_ms, error_history, recovery_successful}
// metadata to each fallback result it builds; a cached response found
// in ctx is returned as stored, without that metadata. The bool
// return reports whether a fallback value was produced; simplified_prompt
// is handled by the dispatcher re-invoking the step with
// SimplifiedPrompt, so it produces no value here.
func (r *Retrier) applyFallback(ctx context.Context, lastErr error, history []AttemptInfo) (interface{}, bool) {
	meta := attemptMetadata(history, true)

	switch r.policy.FallbackAction {
	case FallbackGracefulDegradation:
		return mergeMeta(map[string]interface{}{
			"degraded_mode":  true,
			"original_error": string(lastCondition(history)),
		}, meta), true
	case FallbackUseCachedResponse:
		if v := ctx.Value(cachedResponseKey{}); v != nil {
			return v, true
		}
		meta = attemptMetadata(history, false)
		return mergeMeta(map[string]interface{}{
			"degraded_mode":  true,
			"original_error": string(lastCondition(history)),
		}, meta), true
	case FallbackSimplifiedPrompt:
		return nil, false
	case FallbackEmergencyResponse:
		return mergeMeta(map[string]interface{}{
			"emergency": true,
			"message":   "unable to complete step after exhausting retries",
		}, meta), true
	default:
		return nil, false
	}
}

func lastCondition(history []AttemptInfo) RetryCondition {
	if len(history) == 0 {
		return RetryTemporaryError
	}
	return history[len(history)-1].Condition
}

func attemptMetadata(history []AttemptInfo, recoverySuccessful bool) map[string]interface{} {
	var elapsed int64
	for _, a := range history {
		elapsed += a.WaitedMs
	}
	return map[string]interface{}{
		"attempt_number":      len(history),
		"total_attempts":      len(history),
		"execution_time_ms":   elapsed,
		"error_history":       history,
		"recovery_successful": recoverySuccessful,
	}
}

func mergeMeta(base, meta map[string]interface{}) map[string]interface{} {
	for k, v := range meta {
		base[k] = v
	}
	return base
}

type cachedResponseKey struct{}

// WithCachedResponse attaches a cached value to ctx for a subsequent
// Retrier.Do call's use_cached_response fallback.
func WithCachedResponse(ctx context.Context, v interface{}) context.Context {
	return context.WithValue(ctx, cachedResponseKey{}, v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// classifyError maps an arbitrary step error onto one of the §4.6
// retry conditions. Errors already carrying a pipeline ErrorKind of
// ProviderError are inspected by message; anything else is classified
// heuristically the way the teacher's DefaultRetryable inspects
// *APIError/context.DeadlineExceeded, generalized to the pipeline's
// broader connector surface.
func classifyError(err error) RetryCondition {
	if err == context.DeadlineExceeded {
		return RetryTimeout
	}

	msg := toLowerASCII(err.Error())
	switch {
	case contains(msg, "timeout"), contains(msg, "deadline"):
		return RetryTimeout
	case contains(msg, "rate limit"), contains(msg, "429"), contains(msg, "too many requests"):
		return RetryRateLimit
	case contains(msg, "connection"), contains(msg, "dial"), contains(msg, "eof"):
		return RetryConnectionError
	default:
		return RetryTemporaryError
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
