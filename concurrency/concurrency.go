// SPDX-License-Identifier: MPL-2.0

// Package concurrency implements the Concurrency Utilities (spec.md
// §4.9/C11): bounded parallel map, all/batch composition, pipeline
// chaining, and retry-with-backoff, built on golang.org/x/sync/errgroup
// and cenkalti/backoff/v4.
package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// All awaits every thunk. If failFast is true, the first error cancels
// ctx so the remaining thunks can observe cancellation; per-index
// results (including nils for failed slots) are always returned
// alongside the first error seen (spec.md §4.9 `all`).
func All[T any](ctx context.Context, failFast bool, thunks ...func(context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(thunks))
	if !failFast {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for i, thunk := range thunks {
			wg.Add(1)
			go func(i int, thunk func(context.Context) (T, error)) {
				defer wg.Done()
				res, err := thunk(ctx)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				results[i] = res
			}(i, thunk)
		}
		wg.Wait()
		return results, firstErr
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, thunk := range thunks {
		i, thunk := i, thunk
		g.Go(func() error {
			res, err := thunk(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// MapOptions configures Map.
type MapOptions struct {
	Concurrency int // <= 0 means len(items)
}

// Map applies fn to every item with bounded parallelism, preserving
// input order in the output slice (spec.md §4.9 `map`).
func Map[T, R any](ctx context.Context, items []T, opts MapOptions, fn func(context.Context, T) (R, error)) ([]R, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = len(items)
	}
	if concurrency == 0 {
		return nil, nil
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		i, item := i, item
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			res, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchOptions configures Batch.
type BatchOptions struct {
	Concurrency int
	OnProgress  func(completed, total int)
}

// Batch runs tasks fire-and-forget with bounded concurrency, reporting
// progress as each completes (spec.md §4.9 `batch`). Errors are
// collected but do not stop other tasks.
func Batch(ctx context.Context, tasks []func(context.Context) error, opts BatchOptions) []error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = len(tasks)
	}
	if concurrency == 0 {
		return nil
	}

	errs := make([]error, len(tasks))
	var completed int
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = task(ctx)
			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			if opts.OnProgress != nil {
				opts.OnProgress(n, len(tasks))
			}
		}()
	}
	wg.Wait()
	return errs
}

// RetryPolicy mirrors the engine's Command-level retry policy for
// standalone use by concurrency.Retry.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	Retryable     func(err error) bool
}

// Retry runs fn with exponential backoff and jitter, preserving the last
// error if every attempt fails (spec.md §4.9 `retry`).
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialDelay > 0 {
		b.InitialInterval = policy.InitialDelay
	}
	if policy.BackoffFactor > 0 {
		b.Multiplier = policy.BackoffFactor
	}
	b.RandomizationFactor = 0.2 // jitter
	bc := backoff.WithContext(b, ctx)

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= maxAttempts {
			return backoff.Permanent(err)
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, bc); err != nil {
		return lastErr
	}
	return nil
}
