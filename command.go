// SPDX-License-Identifier: MPL-2.0

// Package xec is the Universal Execution Engine: it runs shell commands
// uniformly across the local host, SSH, Docker and Kubernetes behind one
// fluent API. See Engine, Command and Handle for the entry points.
package xec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xec/result"
	"xec/target"
)

// Result is an alias of result.Result so callers working entirely within
// package xec never need a second import for the value Handle resolves to.
type Result = result.Result

// Shell selects how a Command's string form is executed.
type Shell struct {
	// Disabled means the Command carries an explicit argv and is exec'd
	// directly, with no interpreter in between.
	Disabled bool
	// Path is the interpreter to invoke as `<path> -c <rendered>`. Empty
	// together with Disabled == false means "adapter default"
	// (locally $SHELL, else bash, else sh; the remote login shell over
	// SSH; and so on).
	Path string
}

// ShellDefault selects the adapter's default interpreter.
func ShellDefault() Shell { return Shell{} }

// ShellDisabled disables interpretation; Command.Argv must be set.
func ShellDisabled() Shell { return Shell{Disabled: true} }

// ShellPath selects a specific interpreter path.
func ShellPath(path string) Shell { return Shell{Path: path} }

// StdinMode selects what, if anything, is attached to a Command's stdin.
type StdinMode int

const (
	StdinNone StdinMode = iota
	StdinBytes
	StdinStream
	StdinString
)

// Stdin describes the input attached to a Command.
type Stdin struct {
	Mode   StdinMode
	Bytes  []byte
	Stream io.Reader
	Text   string
	// Restartable must be true for StdinStream to combine with a
	// RetryPolicy (spec.md §3 invariant): a stream that cannot be
	// re-read cannot back a second attempt.
	Restartable bool
}

// SinkMode selects how a Command's stdout/stderr is handled.
type SinkMode int

const (
	// SinkCapture buffers the stream into the Result.
	SinkCapture SinkMode = iota
	// SinkDiscard drops the stream entirely.
	SinkDiscard
	// SinkLine invokes LineFunc once per line.
	SinkLine
	// SinkWriter copies the stream to Writer.
	SinkWriter
	// SinkPipe feeds the stream as stdin to PipeTarget, another Command.
	SinkPipe
)

// Sink describes where a Command's stdout or stderr goes.
type Sink struct {
	Mode       SinkMode
	LineFunc   func(line string)
	Writer     io.Writer
	PipeTarget *Command
}

// CaptureSink buffers output into the Result (the default).
func CaptureSink() Sink { return Sink{Mode: SinkCapture} }

// DiscardSink drops output.
func DiscardSink() Sink { return Sink{Mode: SinkDiscard} }

// LineSink invokes fn once per complete line.
func LineSink(fn func(line string)) Sink { return Sink{Mode: SinkLine, LineFunc: fn} }

// WriterSink copies output to w as it arrives.
func WriterSink(w io.Writer) Sink { return Sink{Mode: SinkWriter, Writer: w} }

// MaskingPolicy is a set of literal substrings replaced with
// ***MASKED*** in captured text and emitted events (spec.md §3).
type MaskingPolicy struct {
	patterns []string
}

// NewMaskingPolicy builds a policy from literal substrings.
func NewMaskingPolicy(patterns ...string) MaskingPolicy {
	filtered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	return MaskingPolicy{patterns: filtered}
}

const maskedPlaceholder = "***MASKED***"

// Apply replaces every occurrence of every registered pattern in s.
func (m MaskingPolicy) Apply(s string) string {
	if len(m.patterns) == 0 || s == "" {
		return s
	}
	out := s
	for _, p := range m.patterns {
		out = strings.ReplaceAll(out, p, maskedPlaceholder)
	}
	return out
}

// Merge returns a policy covering both m and other's patterns.
func (m MaskingPolicy) Merge(other MaskingPolicy) MaskingPolicy {
	return NewMaskingPolicy(append(append([]string{}, m.patterns...), other.patterns...)...)
}

// RetryPolicy configures `retry()` (spec.md §4.2, §4.9).
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	// Retryable decides whether a failed attempt should be retried. Nil
	// means "retry any non-nil error or non-zero exit code".
	Retryable func(res *Result, err error) bool
}

// CachePolicy configures `cache()` (spec.md §3).
type CachePolicy struct {
	// Key is explicit; when empty a content hash of command+env+cwd is
	// used instead (computed by Command.CacheKey).
	Key string
	TTL time.Duration
}

// SignalOnTimeout records the escalation grace period for a timeout or
// external cancellation. Grace is carried on the Command but is not passed
// to adapters: the local adapter always sends a graceful terminate and then
// a hard kill five seconds later if the process has not exited.
type SignalOnTimeout struct {
	Grace time.Duration
}

// DefaultSignalOnTimeout is terminate-then-kill after a five second grace
// period, matching the spec's documented default.
func DefaultSignalOnTimeout() SignalOnTimeout {
	return SignalOnTimeout{Grace: 5 * time.Second}
}

// AdapterSelector resolves which adapter runs a Command when no explicit
// target.Descriptor was set via On(). It receives the Command being
// started and returns the descriptor to use.
type AdapterSelector func(c *Command) target.Descriptor

// Command is the immutable Command Model (spec.md §3/§4.2). Every builder
// method returns a new value; the zero-value-sharing struct itself is
// never mutated in place, so concurrent callers may safely hold a
// Command and derive many variants from it.
type Command struct {
	// Line is the command run via shell, mutually exclusive with Argv.
	Line string
	// Argv is the explicit executable+arguments run without a shell
	// (or via a shell wrapper that still receives argv, adapter-dependent).
	Argv []string

	Cwd   string
	Env   map[string]string
	Shell Shell

	Timeout         time.Duration
	SignalOnTimeout SignalOnTimeout

	Stdin      Stdin
	StdoutSink Sink
	StderrSink Sink

	Masking MaskingPolicy
	Retry   *RetryPolicy
	Cache   *CachePolicy

	Target   *target.Descriptor
	Selector AdapterSelector

	Nothrow bool
	Quiet   bool
	// Interactive attaches process stdio to the caller's terminal and
	// disables capture, per spec.md §4.2.
	Interactive bool

	// Canceller, if set, is closed to request cooperative cancellation
	// (spec.md §4.2 `signal(cancellable)`).
	Canceller <-chan struct{}
}

// NewCommand builds a shell-mode Command from a single command line.
func NewCommand(line string) Command {
	return Command{Line: line, Env: map[string]string{}}
}

// NewArgvCommand builds a no-shell Command from an explicit argv. Argv
// must be non-empty; Validate reports InvalidCommandError otherwise.
func NewArgvCommand(argv ...string) Command {
	return Command{Argv: argv, Shell: ShellDisabled(), Env: map[string]string{}}
}

func (c Command) clone() Command {
	next := c
	next.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		next.Env[k] = v
	}
	if c.Argv != nil {
		next.Argv = append([]string(nil), c.Argv...)
	}
	return next
}

// WithCwd returns a copy of c with the working directory set.
func (c Command) WithCwd(path string) Command {
	next := c.clone()
	next.Cwd = path
	return next
}

// WithEnv returns a copy of c with env merged over the existing map;
// later calls override earlier keys (spec.md §4.2 `env(map)`).
func (c Command) WithEnv(env map[string]string) Command {
	next := c.clone()
	for k, v := range env {
		next.Env[k] = v
	}
	return next
}

// WithShell returns a copy of c with the shell mode replaced.
func (c Command) WithShell(s Shell) Command {
	next := c.clone()
	next.Shell = s
	return next
}

// WithTimeout returns a copy of c with an execution time budget.
func (c Command) WithTimeout(d time.Duration) Command {
	next := c.clone()
	next.Timeout = d
	if next.SignalOnTimeout == (SignalOnTimeout{}) {
		next.SignalOnTimeout = DefaultSignalOnTimeout()
	}
	return next
}

// WithNothrow returns a copy of c that treats a non-zero exit as success.
func (c Command) WithNothrow() Command {
	next := c.clone()
	next.Nothrow = true
	return next
}

// WithQuiet returns a copy of c that discards captured output from events/logs.
func (c Command) WithQuiet() Command {
	next := c.clone()
	next.Quiet = true
	return next
}

// WithInteractive returns a copy of c attached to the caller's terminal; this
// disables output capture.
func (c Command) WithInteractive() Command {
	next := c.clone()
	next.Interactive = true
	next.StdoutSink = Sink{}
	next.StderrSink = Sink{}
	return next
}

// WithStdin returns a copy of c with stdin attached.
func (c Command) WithStdin(in Stdin) Command {
	next := c.clone()
	next.Stdin = in
	return next
}

// WithStdout returns a copy of c with its stdout sink replaced.
func (c Command) WithStdout(sink Sink) Command {
	next := c.clone()
	next.StdoutSink = sink
	return next
}

// WithStderr returns a copy of c with its stderr sink replaced.
func (c Command) WithStderr(sink Sink) Command {
	next := c.clone()
	next.StderrSink = sink
	return next
}

// Pipe returns a new Command whose stdout feeds next's stdin. If c already
// pipes into another Command, next is appended to the end of that chain.
// Running the returned value runs the whole pipeline and resolves to the
// tail's Result (spec.md §4.2 `pipe(next)`).
func (c Command) Pipe(next Command) Command {
	head := c.clone()
	if head.StdoutSink.Mode == SinkPipe && head.StdoutSink.PipeTarget != nil {
		tail := head.StdoutSink.PipeTarget.Pipe(next)
		head.StdoutSink = Sink{Mode: SinkPipe, PipeTarget: &tail}
		return head
	}
	head.StdoutSink = Sink{Mode: SinkPipe, PipeTarget: &next}
	return head
}

// WithRetry returns a copy of c with a retry policy attached.
func (c Command) WithRetry(p RetryPolicy) Command {
	next := c.clone()
	next.Retry = &p
	return next
}

// WithCache returns a copy of c with a cache policy attached.
func (c Command) WithCache(p CachePolicy) Command {
	next := c.clone()
	next.Cache = &p
	return next
}

// WithMasking returns a copy of c with additional masking patterns merged in.
func (c Command) WithMasking(patterns ...string) Command {
	next := c.clone()
	next.Masking = next.Masking.Merge(NewMaskingPolicy(patterns...))
	return next
}

// On returns a copy of c targeting the given descriptor explicitly,
// taking precedence over any AdapterSelector (spec.md §4.4).
func (c Command) On(d target.Descriptor) Command {
	next := c.clone()
	next.Target = &d
	return next
}

// WithSelector returns a copy of c using sel to resolve a target when no
// explicit On() descriptor is set.
func (c Command) WithSelector(sel AdapterSelector) Command {
	next := c.clone()
	next.Selector = sel
	return next
}

// WithSignal returns a copy of c bound to an external cancellation channel.
func (c Command) WithSignal(cancel <-chan struct{}) Command {
	next := c.clone()
	next.Canceller = cancel
	return next
}

// Validate enforces the Command Model invariants (spec.md §3):
// shell=false requires an explicit argv; a restartable-incompatible
// stream stdin cannot combine with a retry policy.
func (c Command) Validate() error {
	if c.Shell.Disabled && len(c.Argv) == 0 {
		return &InvalidCommandError{Reason: "shell is disabled but no argv was provided"}
	}
	if !c.Shell.Disabled && c.Line == "" && len(c.Argv) == 0 {
		return &InvalidCommandError{Reason: "command has neither a shell line nor an argv"}
	}
	if c.Stdin.Mode == StdinStream && !c.Stdin.Restartable && c.Retry != nil {
		return &InvalidCommandError{Reason: "stdin is a non-restartable stream, incompatible with a retry policy"}
	}
	return nil
}

// InvalidCommandError reports a Command Model invariant violation.
type InvalidCommandError struct{ Reason string }

func (e *InvalidCommandError) Error() string { return "invalid command: " + e.Reason }

// Render returns the masked, human-readable form of the command used in
// logs, events and Result snapshots. This is distinct from any generic
// stringification: it always goes through the masking policy.
func (c Command) Render() string {
	var raw string
	if c.Line != "" {
		raw = c.Line
	} else {
		raw = strings.Join(c.Argv, " ")
	}
	return c.Masking.Apply(raw)
}

// CacheKey returns the effective cache key: the explicit key if set,
// otherwise a content hash of command+env+cwd.
func (c Command) CacheKey() string {
	if c.Cache != nil && c.Cache.Key != "" {
		return c.Cache.Key
	}
	h := sha256.New()
	io.WriteString(h, c.Line)
	for _, a := range c.Argv {
		io.WriteString(h, a)
	}
	io.WriteString(h, c.Cwd)
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		io.WriteString(h, k)
		io.WriteString(h, "=")
		io.WriteString(h, c.Env[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
