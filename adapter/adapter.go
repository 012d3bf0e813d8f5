// SPDX-License-Identifier: MPL-2.0

// Package adapter defines the Adapter Contract (spec.md §4.4/C6): the
// interface the Execution Engine drives and each of the four concrete
// adapters (local, ssh, docker, kubernetes) implements.
package adapter

import (
	"context"
	"io"
	"time"

	"xec/target"
)

// ExecRequest is everything an adapter needs to run one command,
// stripped of the builder-chain plumbing the engine already resolved.
type ExecRequest struct {
	// Line is used when Argv is empty; the adapter decides how it maps
	// onto a shell invocation using ShellPath/ShellDisabled.
	Line string
	Argv []string

	Cwd   string
	Env   map[string]string

	ShellDisabled bool
	ShellPath     string // empty means adapter default

	Stdin io.Reader

	// Stdout/Stderr receive raw, unmasked bytes as they arrive; the
	// engine applies masking before surfacing captured text or events.
	Stdout io.Writer
	Stderr io.Writer

	// Interactive requests the adapter attach the caller's terminal
	// (a PTY locally, a TTY exec on Docker/Kubernetes) instead of piping
	// Stdin/Stdout. The SSH adapter reads neither Interactive nor Resize.
	Interactive bool
	Resize      <-chan WindowSize
}

// WindowSize is a terminal size update for an interactive session.
type WindowSize struct{ Rows, Cols int }

// ExecResult is the raw outcome an adapter reports; the engine wraps this
// into a result.Result, adding timing, masking and target snapshot.
type ExecResult struct {
	ExitCode int
	Signal   string
}

// Adapter executes commands against one kind of target (spec.md §4.4 C6).
// Implementations must be safe for concurrent use by multiple in-flight
// executions.
type Adapter interface {
	// Kind identifies which target.Kind this adapter serves.
	Kind() target.Kind

	// Exec runs req against d and blocks until completion, context
	// cancellation, or ctx's deadline. Adapters enforce timeout via
	// whatever mechanism fits the transport (process-group signal
	// locally, exec stream cancellation for Docker/Kubernetes). The SSH
	// adapter returns as soon as ctx is done but does not close the
	// session, so the remote command runs on until it exits by itself.
	Exec(ctx context.Context, d target.Descriptor, req ExecRequest) (ExecResult, error)

	// Copy transfers a file or directory tree between the caller's host
	// and d. direction=Upload copies src (local) to dst (remote/in-target);
	// direction=Download copies src (remote/in-target) to dst (local).
	Copy(ctx context.Context, d target.Descriptor, direction CopyDirection, src, dst string, opts CopyOptions) error

	// Close releases any resources the adapter holds for d (pooled
	// connections, cached clients). It is safe to call Close for a
	// descriptor the adapter never saw.
	Close(ctx context.Context, d target.Descriptor) error
}

// CopyDirection selects the direction of a Copy.
type CopyDirection int

const (
	Upload CopyDirection = iota
	Download
)

// CopyOptions configures a Copy call.
type CopyOptions struct {
	// Concurrency is not read by the built-in adapters; the SSH adapter
	// transfers at most four files of a directory at a time.
	Concurrency int
	// OnProgress is invoked with cumulative bytes transferred on a byte
	// count boundary chosen by the adapter.
	OnProgress func(bytesSoFar int64)
}

// Registry resolves an Adapter by kind or by a named alias (spec.md §4.4:
// "maintain adapter registry keyed by kind and by named alias").
type Registry struct {
	byKind  map[target.Kind]Adapter
	byAlias map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:  make(map[target.Kind]Adapter),
		byAlias: make(map[string]Adapter),
	}
}

// Register associates a by its Kind, and additionally under alias if
// alias is non-empty.
func (r *Registry) Register(a Adapter, alias string) {
	r.byKind[a.Kind()] = a
	if alias != "" {
		r.byAlias[alias] = a
	}
}

// Resolve returns the adapter for a named alias if one is registered,
// otherwise falls back to the adapter registered for kind.
func (r *Registry) Resolve(alias string, kind target.Kind) (Adapter, bool) {
	if alias != "" {
		if a, ok := r.byAlias[alias]; ok {
			return a, true
		}
	}
	a, ok := r.byKind[kind]
	return a, ok
}

// DefaultAcquisitionTimeout is a 30-second default for obtaining a pooled
// resource. No built-in adapter reads it; the SSH pool's wait is set by
// sshpool.Options.AcquisitionTimeout.
const DefaultAcquisitionTimeout = 30 * time.Second
