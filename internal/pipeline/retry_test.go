// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrier_SucceedsWithoutRetry(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxRetries: 3, BaseDelayMs: 1, RetryConditions: []RetryCondition{RetryTimeout}}, nil)

	calls := 0
	result, err, history := r.Do(context.Background(), func(ctx context.Context, attempt int) (interface{}, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, history)
}

func TestRetrier_NonRetryableConditionFailsImmediately(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxRetries: 3, BaseDelayMs: 1, RetryConditions: []RetryCondition{RetryTimeout}}, nil)

	calls := 0
	_, err, history := r.Do(context.Background(), func(ctx context.Context, attempt int) (interface{}, error) {
		calls++
		return nil, errors.New("schema mismatch")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, history, 1)
	assert.Equal(t, RetryTemporaryError, history[0].Condition)
}

// TestRetrier_ExhaustionFallsBackToGracefulDegradation is the S4 scenario
// from the end-to-end property list: three timeout failures exhaust the
// policy and graceful_degradation produces a result carrying
// {degraded_mode: true, original_error: "timeout"} plus the attempt
// metadata, rather than surfacing the raw error.
func TestRetrier_ExhaustionFallsBackToGracefulDegradation(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		MaxRetries:      2,
		BaseDelayMs:     1,
		Backoff:         BackoffFixed,
		RetryConditions: []RetryCondition{RetryTimeout},
		FallbackAction:  FallbackGracefulDegradation,
	}, nil)

	calls := 0
	result, err, history := r.Do(context.Background(), func(ctx context.Context, attempt int) (interface{}, error) {
		calls++
		return nil, errors.New("request timeout")
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, history, 3)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, m["degraded_mode"])
	assert.Equal(t, "timeout", m["original_error"])
	assert.Equal(t, 3, m["attempt_number"])
	assert.Equal(t, 3, m["total_attempts"])
	assert.Equal(t, true, m["recovery_successful"])
}

func TestRetrier_UseCachedResponseFallback(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		MaxRetries:      2,
		BaseDelayMs:     1,
		RetryConditions: []RetryCondition{RetryTimeout},
		FallbackAction:  FallbackUseCachedResponse,
	}, nil)

	ctx := WithCachedResponse(context.Background(), "cached-value")
	result, err, _ := r.Do(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
		return nil, errors.New("request timeout")
	})

	require.NoError(t, err)
	assert.Equal(t, "cached-value", result)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, RetryTimeout, classifyError(errors.New("context deadline exceeded")))
	assert.Equal(t, RetryRateLimit, classifyError(errors.New("429 too many requests")))
	assert.Equal(t, RetryConnectionError, classifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, RetryTemporaryError, classifyError(errors.New("internal server error")))
}

func TestBackoff_ExponentialCapsAtMaxDelay(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		MaxRetries:  10,
		BaseDelayMs: 1000,
		MaxDelayMs:  2000,
		Backoff:     BackoffExponential,
	}, nil)

	d := r.backoff(5) // 1000*2^5 = 32000ms, must be capped to ~2000ms +/- jitter
	assert.LessOrEqual(t, d.Milliseconds(), int64(2200))
}
