// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"context"
	"fmt"
	"os"

	"xec/adapter"
	"xec/concurrency"
	"xec/quote"
	"xec/target"
)

// Tempfile is a created-on-demand scratch file with guaranteed cleanup
// (spec.md §4.4 "tempfile-with-cleanup").
type Tempfile struct {
	Path string
	file *os.File
}

// Write writes p to the tempfile.
func (t *Tempfile) Write(p []byte) (int, error) { return t.file.Write(p) }

// Close closes and removes the tempfile. Safe to call more than once.
func (t *Tempfile) Close() error {
	if t.file == nil {
		return nil
	}
	closeErr := t.file.Close()
	removeErr := os.Remove(t.Path)
	t.file = nil
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

// Tempfile creates a scratch file named pattern (an os.CreateTemp
// pattern); the caller must defer Close to guarantee removal.
func (e *Engine) Tempfile(pattern string) (*Tempfile, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("xec: create tempfile: %w", err)
	}
	return &Tempfile{Path: f.Name(), file: f}, nil
}

// AllHandles awaits every handle, and if failFast is set, cancels the
// remaining handles as soon as one fails (spec.md §4.9 `all`). Non-failFast
// waits for every handle and returns each one's Result (nil for a handle
// that failed) together with the first error seen.
func AllHandles(ctx context.Context, failFast bool, handles ...*Handle) ([]*Result, error) {
	thunks := make([]func(context.Context) (*Result, error), len(handles))
	for i, h := range handles {
		h := h
		thunks[i] = func(ctx context.Context) (*Result, error) { return h.Await(ctx) }
	}
	return concurrency.All(ctx, failFast, thunks...)
}

// Map runs fn over items with bounded concurrency, preserving input order
// in the returned slice (spec.md §4.9 `map`).
func Map[T, R any](ctx context.Context, items []T, concurrencyLimit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	return concurrency.Map(ctx, items, concurrency.MapOptions{Concurrency: concurrencyLimit}, fn)
}

// Batch runs tasks fire-and-forget with bounded concurrency and progress
// reporting (spec.md §4.9 `batch`).
func Batch(ctx context.Context, tasks []func(context.Context) error, concurrencyLimit int, onProgress func(completed, total int)) []error {
	return concurrency.Batch(ctx, tasks, concurrency.BatchOptions{Concurrency: concurrencyLimit, OnProgress: onProgress})
}

// Template renders t against the target shell flavor implied by d's kind
// (spec.md §4.1): Kubernetes and Docker containers overwhelmingly run a
// POSIX shell even when launched from a Windows control host, so only a
// descriptor explicitly marked otherwise would select PowerShell; today
// every adapter targets POSIX.
func Template(t quote.Template, d target.Descriptor) (string, error) {
	return quote.Render(t, quote.POSIX)
}

// Transfer copies a file or directory between the caller's host and d,
// dispatching to whichever adapter is registered for d.Kind
// (spec.md §4.4 "transfer").
func (e *Engine) Transfer(ctx context.Context, d target.Descriptor, direction adapter.CopyDirection, src, dst string, opts adapter.CopyOptions) error {
	a, ok := e.registry.Resolve("", d.Kind)
	if !ok {
		return fmt.Errorf("xec: no adapter registered for kind %q", d.Kind)
	}
	return a.Copy(ctx, d, direction, src, dst, opts)
}

// Close releases every adapter-held resource for d (pooled SSH
// connections, docker/kubernetes clients).
func (e *Engine) Close(ctx context.Context, d target.Descriptor) error {
	a, ok := e.registry.Resolve("", d.Kind)
	if !ok {
		return nil
	}
	return a.Close(ctx, d)
}
