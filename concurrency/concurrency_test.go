// SPDX-License-Identifier: MPL-2.0

package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out, err := Map(context.Background(), items, MapOptions{Concurrency: 2}, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{50, 10, 40, 20, 30}, out)
}

func TestMap_PropagatesError(t *testing.T) {
	items := []int{1, 2, 3}
	_, err := Map(context.Background(), items, MapOptions{}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("boom")
		}
		return n, nil
	})
	require.Error(t, err)
}

func TestAll_FailFastCancelsRemaining(t *testing.T) {
	var cancelled int32
	thunks := []func(context.Context) (int, error){
		func(ctx context.Context) (int, error) {
			return 0, errors.New("first fails fast")
		},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			atomic.AddInt32(&cancelled, 1)
			return 0, ctx.Err()
		},
	}
	_, err := All(context.Background(), true, thunks...)
	require.Error(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&cancelled) == 1 }, time.Second, 10*time.Millisecond)
}

func TestBatch_ReportsProgress(t *testing.T) {
	var progressCalls int32
	tasks := make([]func(context.Context) error, 5)
	for i := range tasks {
		tasks[i] = func(context.Context) error { return nil }
	}
	errs := Batch(context.Background(), tasks, BatchOptions{
		Concurrency: 2,
		OnProgress:  func(completed, total int) { atomic.AddInt32(&progressCalls, 1) },
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 5, progressCalls)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	var attempts int
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetry_RetryablePredicateStopsEarly(t *testing.T) {
	var attempts int
	permanentErr := errors.New("permanent")
	err := Retry(context.Background(), RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return err != permanentErr },
	}, func(context.Context) error {
		attempts++
		return permanentErr
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
