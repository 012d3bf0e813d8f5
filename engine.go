// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"xec/adapter"
	"xec/concurrency"
	"xec/result"
	"xec/target"
	"xec/xecerr"
)

// Engine is the Execution Engine (spec.md §4.4/C5): it holds the default
// context new Commands inherit, the adapter registry, and the lifecycle
// event bus.
type Engine struct {
	registry *adapter.Registry
	bus      *bus
	logger   *log.Logger

	defaultEnv     map[string]string
	defaultCwd     string
	defaultShell   Shell
	defaultTimeout time.Duration
	masking        MaskingPolicy
	selector       AdapterSelector

	nextHandleID atomic.Uint64

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type cacheEntry struct {
	result *Result
	until  time.Time
}

type inflightCall struct {
	done chan struct{}
	res  *Result
	err  error
}

// New builds an Engine with no adapters registered; register each one with
// RegisterAdapter.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		registry:   adapter.NewRegistry(),
		bus:        newBus(),
		logger:     log.NewWithOptions(os.Stderr, log.Options{Prefix: "xec"}),
		defaultEnv: map[string]string{},
		cache:      make(map[string]cacheEntry),
		inflight:   make(map[string]*inflightCall),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterAdapter registers a, optionally under a named alias, per
// spec.md §4.4 "maintain adapter registry keyed by kind and by named alias".
func (e *Engine) RegisterAdapter(a adapter.Adapter, alias string) {
	e.registry.Register(a, alias)
}

// Subscribe registers l to receive every lifecycle event the Engine emits.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) { return e.bus.Subscribe(l) }

// Command builds a Handle from a shell-mode command line, inheriting the
// Engine's default env/cwd/shell/timeout/masking.
func (e *Engine) Command(line string) *Handle {
	return newHandle(e, e.contextualise(NewCommand(line)), e.nextHandleID.Add(1))
}

// Argv builds a Handle from an explicit argv, inheriting Engine defaults.
func (e *Engine) Argv(argv ...string) *Handle {
	return newHandle(e, e.contextualise(NewArgvCommand(argv...)), e.nextHandleID.Add(1))
}

func (e *Engine) contextualise(c Command) Command {
	next := c
	if len(e.defaultEnv) > 0 {
		next = next.WithEnv(e.defaultEnv)
	}
	if e.defaultCwd != "" && next.Cwd == "" {
		next = next.WithCwd(e.defaultCwd)
	}
	if next.Shell == (Shell{}) {
		next = next.WithShell(e.defaultShell)
	}
	if e.defaultTimeout > 0 && next.Timeout == 0 {
		next = next.WithTimeout(e.defaultTimeout)
	}
	next = next.WithMasking(e.masking.patterns...)
	if next.Selector == nil {
		next = next.WithSelector(e.selector)
	}
	return next
}

// resolveTarget implements the precedence rule of spec.md §4.4: explicit
// .on(target) wins, else the AdapterSelector, else local.
func (e *Engine) resolveTarget(c Command) target.Descriptor {
	if c.Target != nil {
		return *c.Target
	}
	if c.Selector != nil {
		return c.Selector(&c)
	}
	return target.Local()
}

// run executes cmd to completion, handling validation, caching,
// single-flight coalescing, retries, event emission and error mapping. It
// is the body every Handle.Start goroutine drives.
func (e *Engine) run(ctx context.Context, handleID uint64, cmd Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.StdoutSink.Mode == SinkPipe {
		return e.runPipeline(ctx, handleID, cmd)
	}

	if cmd.Cache != nil {
		key := cmd.CacheKey()
		if res, ok := e.cacheLookup(key); ok {
			return res, resultError(res)
		}
		return e.singleFlight(ctx, handleID, cmd, key)
	}

	return e.execute(ctx, handleID, cmd)
}

func (e *Engine) cacheLookup(key string) (*Result, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	entry, ok := e.cache[key]
	if !ok || time.Now().After(entry.until) {
		return nil, false
	}
	return entry.result, true
}

func (e *Engine) cacheStore(key string, ttl time.Duration, res *Result) {
	if res == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache[key] = cacheEntry{result: res, until: time.Now().Add(ttl)}
}

// singleFlight coalesces concurrent executions of the same cache key into
// one underlying run (spec.md §5 "Caches ... are read-through with
// single-flight").
func (e *Engine) singleFlight(ctx context.Context, handleID uint64, cmd Command, key string) (*Result, error) {
	e.inflightMu.Lock()
	if call, ok := e.inflight[key]; ok {
		e.inflightMu.Unlock()
		<-call.done
		return call.res, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	e.inflight[key] = call
	e.inflightMu.Unlock()

	res, err := e.execute(ctx, handleID, cmd)
	call.res, call.err = res, err
	close(call.done)

	e.inflightMu.Lock()
	delete(e.inflight, key)
	e.inflightMu.Unlock()

	if err == nil && cmd.Cache != nil {
		e.cacheStore(key, cmd.Cache.TTL, res)
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, handleID uint64, cmd Command) (*Result, error) {
	return e.executeStage(ctx, handleID, cmd, nil, nil)
}

// executeStage is execute, generalized with the stdin/stdout overrides a
// pipe() stage needs; retry policies attached to an individual stage still
// apply when it is part of a pipeline.
func (e *Engine) executeStage(ctx context.Context, handleID uint64, cmd Command, stdinOverride io.Reader, pipeOut io.Writer) (*Result, error) {
	if cmd.Retry == nil {
		return e.runStage(ctx, handleID, cmd, stdinOverride, pipeOut)
	}

	policy := concurrency.RetryPolicy{
		MaxAttempts:   cmd.Retry.MaxAttempts,
		InitialDelay:  cmd.Retry.InitialDelay,
		BackoffFactor: cmd.Retry.BackoffFactor,
	}
	var last *Result
	policy.Retryable = func(err error) bool {
		if cmd.Retry.Retryable != nil {
			return cmd.Retry.Retryable(last, err)
		}
		return err != nil
	}

	err := concurrency.Retry(ctx, policy, func(ctx context.Context) error {
		res, err := e.runStage(ctx, handleID, cmd, stdinOverride, pipeOut)
		last = res
		return err
	})
	return last, err
}

// attempt runs cmd exactly once against its resolved adapter, with no
// retry/cache wrapping.
func (e *Engine) attempt(ctx context.Context, handleID uint64, cmd Command) (*Result, error) {
	return e.runStage(ctx, handleID, cmd, nil, nil)
}

// runStage is attempt generalized for pipe() composition: stdinOverride, when
// set, replaces whatever cmd.Stdin would otherwise wire up (the previous
// pipeline stage's stdout), and pipeOut, when set, additionally receives a
// raw copy of this stage's stdout (the next pipeline stage's stdin) on top
// of the normal masked capture and sink handling (spec.md §4.2/§4.9 `pipe`).
func (e *Engine) runStage(ctx context.Context, handleID uint64, cmd Command, stdinOverride io.Reader, pipeOut io.Writer) (*Result, error) {
	d := e.resolveTarget(cmd)
	a, ok := e.registry.Resolve("", d.Kind)
	if !ok {
		return nil, fmt.Errorf("xec: no adapter registered for kind %q", d.Kind)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	rendered := cmd.Render()
	e.bus.emit(Event{Kind: EventCommandStart, HandleID: handleID, Command: rendered, Target: d.String()})

	stdoutCapture, stdoutForAdapter := e.sinkWriter(cmd, handleID, rendered, d, cmd.StdoutSink, pipeOut, true)
	stderrCapture, stderrForAdapter := e.sinkWriter(cmd, handleID, rendered, d, cmd.StderrSink, nil, false)

	req := handleAdapterRequest(cmd, stdoutForAdapter, stderrForAdapter)
	if stdinOverride != nil {
		req.Stdin = stdinOverride
	}

	start := time.Now()
	execRes, err := a.Exec(runCtx, d, req)
	end := time.Now()

	var stdoutText, stderrText string
	if stdoutCapture != nil {
		stdoutText = stdoutCapture.String()
	}
	if stderrCapture != nil {
		stderrText = stderrCapture.String()
	}

	res := &result.Result{
		Stdout:    stdoutText,
		Stderr:    stderrText,
		ExitCode:  execRes.ExitCode,
		Signal:    execRes.Signal,
		StartTime: start,
		EndTime:   end,
		Command:   rendered,
		Target:    d,
		Nothrow:   cmd.Nothrow,
	}

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			timeoutErr := &xecerr.TimeoutError{Command: rendered, Target: d.String(), After: cmd.Timeout}
			e.bus.emit(Event{Kind: EventCommandError, HandleID: handleID, Command: rendered, Target: d.String(), Err: timeoutErr})
			return res, timeoutErr
		}
		if ctx.Err() != nil {
			cancelErr := &xecerr.CancelledError{Command: rendered, Target: d.String()}
			e.bus.emit(Event{Kind: EventCommandError, HandleID: handleID, Command: rendered, Target: d.String(), Err: cancelErr})
			return res, cancelErr
		}
		e.bus.emit(Event{Kind: EventCommandError, HandleID: handleID, Command: rendered, Target: d.String(), Err: err})
		return res, err
	}

	e.bus.emit(Event{Kind: EventCommandComplete, HandleID: handleID, Command: rendered, Target: d.String(), ExitCode: execRes.ExitCode})
	return res, resultError(res)
}

// sinkWriter realizes one stream's Sink (spec.md §4.2 stdout()/stderr()):
// SinkDiscard drops the stream outright (no capture, no events); every
// other mode still captures/masks/emits as before, and SinkWriter/pipeOut
// additionally tee the raw bytes to the caller's Writer or the next
// pipeline stage. The returned *maskingWriter is nil when nothing was
// captured, signalling runStage to leave the corresponding Result field
// empty.
func (e *Engine) sinkWriter(cmd Command, handleID uint64, rendered string, d target.Descriptor, sink Sink, pipeOut io.Writer, isStdout bool) (*maskingWriter, io.Writer) {
	if sink.Mode == SinkDiscard {
		return nil, io.Discard
	}

	capture := newMaskingWriter(cmd.Masking, func(line string) {
		if !cmd.Quiet {
			kind := EventCommandStderr
			if isStdout {
				kind = EventCommandStdout
			}
			e.bus.emit(Event{Kind: kind, HandleID: handleID, Command: rendered, Target: d.String(), Chunk: line})
		}
		if sink.Mode == SinkLine && sink.LineFunc != nil {
			sink.LineFunc(line)
		}
	})

	var out io.Writer = capture
	switch {
	case sink.Mode == SinkWriter && sink.Writer != nil:
		out = io.MultiWriter(capture, sink.Writer)
	case pipeOut != nil:
		out = io.MultiWriter(capture, pipeOut)
	}
	return capture, out
}

// runPipeline executes head and every Command chained via Pipe() as a
// concurrent pipeline, wiring each stage's stdout into the next stage's
// stdin through concurrency.Pipe, and returns the final stage's Result
// (spec.md §4.2 `pipe(next)`, §4.9 `pipe(a, b, c, ...)`).
func (e *Engine) runPipeline(ctx context.Context, handleID uint64, head Command) (*Result, error) {
	chain := []Command{head}
	for {
		tail := chain[len(chain)-1]
		if tail.StdoutSink.Mode != SinkPipe || tail.StdoutSink.PipeTarget == nil {
			break
		}
		chain = append(chain, *tail.StdoutSink.PipeTarget)
	}

	stages := make([]*cmdStage, len(chain))
	pipeStages := make([]concurrency.Stage, len(chain))
	for i, c := range chain {
		s := newCmdStage(e, handleID, c, i > 0, i == len(chain)-1)
		stages[i] = s
		pipeStages[i] = s
	}

	_ = concurrency.Pipe(ctx, pipeStages...)

	last := stages[len(stages)-1]
	return last.result, last.err
}

// cmdStage adapts a single Command to concurrency.Stage so Pipe can wire it
// into a pipeline without knowing anything about the Execution Engine.
type cmdStage struct {
	engine   *Engine
	handleID uint64
	cmd      Command
	hasStdin bool
	isLast   bool

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	result *Result
	err    error
}

func newCmdStage(e *Engine, handleID uint64, cmd Command, hasStdin, isLast bool) *cmdStage {
	sr, sw := io.Pipe()
	or, ow := io.Pipe()
	return &cmdStage{
		engine: e, handleID: handleID, cmd: cmd, hasStdin: hasStdin, isLast: isLast,
		stdinR: sr, stdinW: sw, stdoutR: or, stdoutW: ow,
	}
}

func (s *cmdStage) StdinWriter() io.WriteCloser { return s.stdinW }
func (s *cmdStage) StdoutReader() io.ReadCloser { return s.stdoutR }

func (s *cmdStage) Run(ctx context.Context) error {
	defer s.stdoutW.Close()

	var stdin io.Reader
	if s.hasStdin {
		stdin = s.stdinR
	}
	var pipeOut io.Writer
	if !s.isLast {
		pipeOut = s.stdoutW
	}

	res, err := s.engine.executeStage(ctx, s.handleID, s.cmd, stdin, pipeOut)
	s.result = res
	s.err = err
	return err
}

// resultError maps a non-ok Result to *xecerr.CommandError, unless the
// originating Command requested nothrow.
func resultError(res *Result) error {
	if res == nil || res.Ok() {
		return nil
	}
	return &xecerr.CommandError{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Command:  res.Command,
		Target:   res.Target.String(),
	}
}

// maskingWriter buffers written bytes, applies a masking policy per flushed
// line, and invokes onLine for each masked line as it completes.
type maskingWriter struct {
	mu      sync.Mutex
	masking MaskingPolicy
	onLine  func(string)
	buf     bytes.Buffer
	pending bytes.Buffer
}

func newMaskingWriter(m MaskingPolicy, onLine func(string)) *maskingWriter {
	return &maskingWriter{masking: m, onLine: onLine}
}

func (w *maskingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	w.pending.Write(p)
	for {
		line, err := w.pending.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back and wait for more bytes.
			w.pending.Reset()
			w.pending.WriteString(line)
			break
		}
		if w.onLine != nil {
			w.onLine(w.masking.Apply(line))
		}
	}
	return len(p), nil
}

// String returns the full masked buffered content, used to populate
// Result.Stdout/Stderr.
func (w *maskingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.masking.Apply(w.buf.String())
}
