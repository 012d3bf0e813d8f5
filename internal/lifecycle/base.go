// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base provides common fields and lifecycle infrastructure for components
// that start once, run, and stop once. A Base instance is single-use: once
// stopped or failed, construct a new one.
type Base struct {
	state atomic.Int32

	stateMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	errCh     chan error
	lastErr   error
}

// Option configures a Base instance.
type Option func(*Base)

// WithErrorChannel sets a custom error channel buffer size. Default is 1.
func WithErrorChannel(size int) Option {
	return func(b *Base) {
		b.errCh = make(chan error, size)
	}
}

// NewBase creates a new Base in the Created state.
func NewBase(opts ...Option) *Base {
	b := &Base{
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// State returns the current state (atomic, lock-free read).
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsRunning returns true if the component is in the Running state.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// Err returns a channel for receiving asynchronous failures.
func (b *Base) Err() <-chan error {
	return b.errCh
}

// LastError returns the error that caused the Failed state, or nil.
func (b *Base) LastError() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.lastErr
}

// TransitionToStarting moves Created -> Starting. Must be called at the
// top of Start(). Rejects an already-cancelled context before any other
// work so a caller can never observe Running on a dead context.
func (b *Base) TransitionToStarting(ctx context.Context) error {
	select {
	case <-ctx.Done():
		b.TransitionToFailed(fmt.Errorf("context cancelled before start: %w", ctx.Err()))
		return b.lastErr
	default:
	}

	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start component in state %s", State(b.state.Load()))
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// TransitionToRunning moves Starting -> Running and unblocks WaitForReady.
func (b *Base) TransitionToRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.startedCh)
	}
}

// TransitionToFailed moves to the terminal Failed state.
func (b *Base) TransitionToFailed(err error) {
	b.stateMu.Lock()
	b.lastErr = err
	b.stateMu.Unlock()

	b.state.Store(int32(StateFailed))

	if b.cancel != nil {
		b.cancel()
	}

	select {
	case b.errCh <- err:
	default:
	}
}

// TransitionToStopping moves to Stopping and cancels the internal context.
// Returns false if the component was never started or is already
// stopped/stopping.
func (b *Base) TransitionToStopping() bool {
	for {
		switch current := State(b.state.Load()); current {
		case StateStopped, StateFailed:
			return false
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
			continue
		case StateStopping:
			return false
		case StateStarting, StateRunning:
			if !b.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				continue
			}
			if b.cancel != nil {
				b.cancel()
			}
			return true
		default:
			return false
		}
	}
}

// TransitionToStopped moves to the terminal Stopped state. Call after all
// tracked goroutines have exited.
func (b *Base) TransitionToStopped() {
	b.state.Store(int32(StateStopped))
}

// WaitForReady blocks until Running or the given context is cancelled.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for component ready: %w", ctx.Err())
	}
}

// WaitForShutdown blocks until every goroutine registered via AddGoroutine
// has called DoneGoroutine.
func (b *Base) WaitForShutdown() {
	b.wg.Wait()
}

// Context returns the internal lifecycle context. Nil before Start().
func (b *Base) Context() context.Context {
	return b.ctx
}

// AddGoroutine registers a background goroutine with the shutdown WaitGroup.
func (b *Base) AddGoroutine() { b.wg.Add(1) }

// DoneGoroutine marks a background goroutine as finished. Defer at the top
// of the goroutine.
func (b *Base) DoneGoroutine() { b.wg.Done() }

// SendError delivers an error to Err() consumers without blocking; drops
// the error if the channel is full.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

// CloseErrChannel closes the error channel. Call once the component has
// fully stopped.
func (b *Base) CloseErrChannel() { close(b.errCh) }

// StartedChannel exposes the readiness channel for callers that need a
// select-based wait alongside other conditions.
func (b *Base) StartedChannel() <-chan struct{} { return b.startedCh }
