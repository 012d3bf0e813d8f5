// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"xec/adapter"
	"xec/target"
	"xec/xecerr"
)

// HandleState is the lifecycle state of a Deferred Command Handle
// (spec.md §4.3/C4): a Handle is built pending, starts exactly once, and
// ends up done (successfully or not). Builder methods are only valid while
// pending; calling one afterwards returns StateError.
type HandleState int32

const (
	HandleStatePending HandleState = iota
	HandleStateRunning
	HandleStateDone
)

func (s HandleState) String() string {
	switch s {
	case HandleStatePending:
		return "pending"
	case HandleStateRunning:
		return "running"
	case HandleStateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Handle is a deferred, awaitable Command execution bound to an Engine
// (spec.md §4.3). Constructing one never starts anything; Start/Await do.
type Handle struct {
	id      uint64
	engine  *Engine
	cmd     Command
	state   atomic.Int32
	cancel  context.CancelFunc
	done    chan struct{}
	result  *Result
	err     error
}

func newHandle(e *Engine, cmd Command, id uint64) *Handle {
	return &Handle{engine: e, cmd: cmd, id: id, done: make(chan struct{})}
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState { return HandleState(h.state.Load()) }

// mutate applies fn to a cloned Command if the handle has not yet started,
// returning a handle carrying the mutated copy. Once Running/Done, builder
// calls are rejected with StateError rather than silently ignored, since a
// caller mutating a handle it thinks is still pending is a bug worth
// surfacing.
func (h *Handle) mutate(fn func(Command) Command) *Handle {
	if h.State() != HandleStatePending {
		errored := &Handle{engine: h.engine, cmd: h.cmd, id: h.id, done: make(chan struct{}),
			err: &xecerr.StateError{Op: "modify handle", State: h.State().String()}}
		errored.state.Store(int32(HandleStateDone))
		close(errored.done)
		return errored
	}
	return &Handle{engine: h.engine, cmd: fn(h.cmd), id: h.id, done: make(chan struct{})}
}

func (h *Handle) WithCwd(path string) *Handle       { return h.mutate(func(c Command) Command { return c.WithCwd(path) }) }
func (h *Handle) WithEnv(env map[string]string) *Handle {
	return h.mutate(func(c Command) Command { return c.WithEnv(env) })
}
func (h *Handle) WithTimeout(d time.Duration) *Handle {
	return h.mutate(func(c Command) Command { return c.WithTimeout(d) })
}
func (h *Handle) WithNothrow() *Handle { return h.mutate(func(c Command) Command { return c.WithNothrow() }) }
func (h *Handle) WithRetry(p RetryPolicy) *Handle {
	return h.mutate(func(c Command) Command { return c.WithRetry(p) })
}
func (h *Handle) On(d target.Descriptor) *Handle {
	return h.mutate(func(c Command) Command { return c.On(d) })
}
func (h *Handle) WithShell(s Shell) *Handle {
	return h.mutate(func(c Command) Command { return c.WithShell(s) })
}
func (h *Handle) WithQuiet() *Handle { return h.mutate(func(c Command) Command { return c.WithQuiet() }) }
func (h *Handle) WithInteractive() *Handle {
	return h.mutate(func(c Command) Command { return c.WithInteractive() })
}
func (h *Handle) WithStdin(in Stdin) *Handle {
	return h.mutate(func(c Command) Command { return c.WithStdin(in) })
}
func (h *Handle) WithStdout(sink Sink) *Handle {
	return h.mutate(func(c Command) Command { return c.WithStdout(sink) })
}
func (h *Handle) WithStderr(sink Sink) *Handle {
	return h.mutate(func(c Command) Command { return c.WithStderr(sink) })
}
func (h *Handle) WithCache(p CachePolicy) *Handle {
	return h.mutate(func(c Command) Command { return c.WithCache(p) })
}
func (h *Handle) WithSignal(cancel <-chan struct{}) *Handle {
	return h.mutate(func(c Command) Command { return c.WithSignal(cancel) })
}

// Pipe chains h's stdout into next's stdin and returns a Handle that runs
// the whole pipeline and resolves to the tail's Result, matching
// Command.Pipe (spec.md §4.2
// `pipe(next)`). Both h and next must still be pending; as with every other
// builder method, calling it afterwards yields a StateError handle instead
// of silently mutating a running or done one.
func (h *Handle) Pipe(next *Handle) *Handle {
	if h.State() != HandleStatePending || next.State() != HandleStatePending {
		state := h.State()
		if state == HandleStatePending {
			state = next.State()
		}
		errored := &Handle{engine: h.engine, cmd: h.cmd, id: h.id, done: make(chan struct{}),
			err: &xecerr.StateError{Op: "pipe handle", State: state.String()}}
		errored.state.Store(int32(HandleStateDone))
		close(errored.done)
		return errored
	}
	tail := h.cmd.Pipe(next.cmd)
	return &Handle{engine: h.engine, cmd: tail, id: next.id, done: make(chan struct{})}
}

// Start transitions the handle to Running and launches execution in the
// background. Calling Start twice is a no-op on the second call: it
// returns the same handle without relaunching (spec.md §4.3 "idempotent
// start").
func (h *Handle) Start(ctx context.Context) *Handle {
	if h.err != nil {
		return h
	}
	if !h.state.CompareAndSwap(int32(HandleStatePending), int32(HandleStateRunning)) {
		return h
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	if sig := h.cmd.Canceller; sig != nil {
		go func() {
			select {
			case <-sig:
				cancel()
			case <-h.done:
			}
		}()
	}
	go func() {
		defer close(h.done)
		defer h.state.Store(int32(HandleStateDone))
		res, err := h.engine.run(runCtx, h.id, h.cmd)
		h.result = res
		h.err = err
	}()
	return h
}

// Cancel requests graceful termination of a running handle: the adapter
// receives its signal-on-timeout escalation (terminate, then kill after
// the adapter's grace period, five seconds locally) exactly as if a
// timeout had elapsed (spec.md §5 "Cancellation").
// Cancelling a pending handle dequeues it before it ever starts; cancelling
// a done handle is a no-op.
func (h *Handle) Cancel() {
	if h.state.CompareAndSwap(int32(HandleStatePending), int32(HandleStateDone)) {
		h.err = &xecerr.CancelledError{Command: h.cmd.Render()}
		close(h.done)
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// Await blocks until the handle is Done, then returns its Result. A
// non-zero exit is reported as *xecerr.CommandError unless the Command
// was built with WithNothrow.
func (h *Handle) Await(ctx context.Context) (*Result, error) {
	if h.State() == HandleStatePending {
		h.Start(ctx)
	}
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleAdapterRequest builds an adapter.ExecRequest from a resolved
// Command. stdout/stderr are whatever the engine decided realizes each
// stream's Sink (see Engine.sinkWriter): a masking capture, a tee into a
// caller-supplied Writer, the next pipe stage, or io.Discard.
func handleAdapterRequest(cmd Command, stdout, stderr io.Writer) adapter.ExecRequest {
	req := adapter.ExecRequest{
		Line:          cmd.Line,
		Argv:          cmd.Argv,
		Cwd:           cmd.Cwd,
		Env:           cmd.Env,
		ShellDisabled: cmd.Shell.Disabled,
		ShellPath:     cmd.Shell.Path,
		Interactive:   cmd.Interactive,
		Stdout:        stdout,
		Stderr:        stderr,
	}
	switch cmd.Stdin.Mode {
	case StdinBytes:
		req.Stdin = bytes.NewReader(cmd.Stdin.Bytes)
	case StdinString:
		req.Stdin = bytes.NewReader([]byte(cmd.Stdin.Text))
	case StdinStream:
		req.Stdin = cmd.Stdin.Stream
	}
	return req
}
