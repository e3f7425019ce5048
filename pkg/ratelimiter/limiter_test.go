package ratelimiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServeRetriesUntilSuccessAfterRateLimitStorm covers scenario S3: a
// caller hits 429 three times in a row and succeeds on the fourth attempt.
// With maxRetries=3 and a short cooldown, the call must observe exactly 3
// retries and 3 rate-limit-hits, one success, and take at least
// 3*cooldown to return.
func TestServeRetriesUntilSuccessAfterRateLimitStorm(t *testing.T) {
	cfg := Config{RequestsPerMinute: 6000, MaxRetries: 3, CoolDown: 20 * time.Millisecond}
	l := New(cfg)
	defer l.Stop()

	var calls int32
	start := time.Now()
	err := l.Run(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n <= 3 {
			return syncerr.RateLimited(assertNewErr("429"))
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.EqualValues(t, 4, calls)
	assert.GreaterOrEqual(t, elapsed, 3*cfg.CoolDown)

	stats := l.Stats()
	assert.EqualValues(t, 1, stats.Successful)
	assert.EqualValues(t, 3, stats.Retries)
	assert.EqualValues(t, 3, stats.RateLimitHits)
	assert.EqualValues(t, 0, stats.Failed)
}

// TestServeExhaustsRetriesAndFails covers the case where every attempt is
// rate-limited: after maxRetries retries the limiter gives up and returns
// the last rate-limited error, recording it as a failure, not a success.
func TestServeExhaustsRetriesAndFails(t *testing.T) {
	cfg := Config{RequestsPerMinute: 6000, MaxRetries: 2, CoolDown: 10 * time.Millisecond}
	l := New(cfg)
	defer l.Stop()

	var calls int32
	err := l.Run(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return syncerr.RateLimited(assertNewErr("429"))
	})

	require.Error(t, err)
	assert.True(t, syncerr.IsRateLimited(err))
	assert.EqualValues(t, 3, calls) // initial attempt + 2 retries

	stats := l.Stats()
	assert.EqualValues(t, 0, stats.Successful)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 2, stats.Retries)
	assert.EqualValues(t, 3, stats.RateLimitHits)
}

// TestServeDoesNotRetryNonRateLimitErrors ensures a transport error is
// surfaced immediately without consuming a retry.
func TestServeDoesNotRetryNonRateLimitErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoolDown = time.Millisecond
	l := New(cfg)
	defer l.Stop()

	var calls int32
	err := l.Run(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return syncerr.Transport(assertNewErr("connection reset"))
	})

	require.Error(t, err)
	assert.EqualValues(t, 1, calls)

	stats := l.Stats()
	assert.EqualValues(t, 0, stats.RateLimitHits)
	assert.EqualValues(t, 0, stats.Retries)
	assert.EqualValues(t, 1, stats.Failed)
}

// TestRateCeilingEnforcesMinimumSpacing verifies the testable property that
// no more than requests_per_minute invocations occur in any 60s window, by
// checking that N consecutive admits take at least (N-1)*60/R seconds.
func TestRateCeilingEnforcesMinimumSpacing(t *testing.T) {
	const rpm = 600 // 10/sec, so spacing is 100ms
	l := New(Config{RequestsPerMinute: rpm, MaxRetries: 1, CoolDown: time.Millisecond})
	defer l.Stop()

	const n = 5
	start := time.Now()
	for i := 0; i < n; i++ {
		err := l.Run(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	minSpacing := time.Duration(float64(time.Minute) / float64(rpm))
	assert.GreaterOrEqual(t, elapsed, time.Duration(n-1)*minSpacing*9/10) // 10% slack
}

// TestRunFIFOOrdersQueuedOperations ensures operations are served in the
// order they were submitted, not the order their goroutines happen to run.
// The single consumer goroutine serializes writes to the results channel,
// so submission order (staggered here) determines execution order.
func TestRunFIFOOrdersQueuedOperations(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, MaxRetries: 0, CoolDown: time.Millisecond})
	defer l.Stop()

	const n = 10
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			_ = l.Run(context.Background(), func(ctx context.Context) error {
				results <- i
				return nil
			})
		}()
		time.Sleep(2 * time.Millisecond) // stagger submission order
	}

	var order []int
	for i := 0; i < n; i++ {
		order = append(order, <-results)
	}

	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertNewErr(msg string) error {
	return stringErr(msg)
}
