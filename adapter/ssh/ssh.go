// SPDX-License-Identifier: MPL-2.0

// Package ssh implements the SSH Adapter (spec.md §4.6/C8): it resolves a
// pooled connection for the target descriptor's fingerprint, renders the
// command through the configured sudo policy, and runs it on a session
// channel.
package ssh

import (
	"context"
	"fmt"
	"io"
	"strings"

	"xec/adapter"
	"xec/quote"
	"xec/sshpool"
	"xec/target"
)

// Adapter runs commands over SSH, pooling connections per descriptor
// fingerprint.
type Adapter struct {
	pool *sshpool.Pool
	// sudoPassword resolves the sudo password for a target host; wired
	// to the secrets subsystem's decrypt-on-demand store by the engine.
	sudoPassword func(host string) (string, error)
}

// New builds an ssh Adapter backed by pool. passwordResolver supplies the
// sudo password for a given host when a Descriptor requests a sudo
// method; it may be nil if sudo is never used.
func New(pool *sshpool.Pool, passwordResolver func(host string) (string, error)) *Adapter {
	if passwordResolver == nil {
		passwordResolver = func(string) (string, error) { return "", nil }
	}
	return &Adapter{pool: pool, sudoPassword: passwordResolver}
}

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() target.Kind { return target.KindSSH }

// Exec implements adapter.Adapter.
func (a *Adapter) Exec(ctx context.Context, d target.Descriptor, req adapter.ExecRequest) (adapter.ExecResult, error) {
	if d.SSH == nil {
		return adapter.ExecResult{}, fmt.Errorf("ssh adapter: descriptor has no SSH parameters")
	}

	conn, err := a.pool.Acquire(ctx, *d.SSH)
	if err != nil {
		return adapter.ExecResult{}, err
	}
	defer a.pool.Release(conn)

	command := renderCommand(req)

	env := req.Env
	stdin := req.Stdin
	var cleanup func()
	if d.SSH.SudoMethod != target.SudoMethodNone {
		password, perr := a.sudoPassword(d.SSH.Host)
		if perr != nil {
			return adapter.ExecResult{}, fmt.Errorf("ssh adapter: resolve sudo password: %w", perr)
		}
		wrapped, sudoEnv, c, werr := sshpool.WrapSudo(conn, d.SSH.SudoMethod, password, command)
		if werr != nil {
			return adapter.ExecResult{}, werr
		}
		command = wrapped
		cleanup = c
		if len(sudoEnv) > 0 {
			env = mergeEnv(req.Env, sudoEnv)
		}
		if d.SSH.SudoMethod == target.SudoMethodStdin {
			feed := io.Reader(strings.NewReader(password + "\n"))
			if stdin != nil {
				feed = io.MultiReader(feed, stdin)
			}
			stdin = feed
		}
	}
	if cleanup != nil {
		defer cleanup()
	}

	done := make(chan struct {
		res sshpool.ExecResult
		err error
	}, 1)
	go func() {
		res, err := conn.Exec(sshpool.ExecRequest{
			Command: command,
			Env:     env,
			Stdin:   stdin,
			Stdout:  req.Stdout,
			Stderr:  req.Stderr,
		})
		done <- struct {
			res sshpool.ExecResult
			err error
		}{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return adapter.ExecResult{}, out.err
		}
		return adapter.ExecResult{ExitCode: out.res.ExitCode, Signal: out.res.Signal}, nil
	case <-ctx.Done():
		conn.Healthy() // best-effort liveness probe; a dead connection is discarded on Release
		return adapter.ExecResult{}, ctx.Err()
	}
}

func renderCommand(req adapter.ExecRequest) string {
	if len(req.Argv) > 0 && req.Line == "" {
		return quoteArgv(req.Argv)
	}
	return req.Line
}

// quoteArgv renders an argv-mode command as a single POSIX-quoted shell
// string. The SSH exec channel only carries one command string, always
// re-interpreted by the remote login shell (unlike Docker/Kubernetes, which
// take a real []string argv), so every element must be individually quoted
// or a value containing whitespace or shell metacharacters would be split
// or reinterpreted on the far end.
func quoteArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quote.Quote(a, quote.POSIX)
	}
	return strings.Join(parts, " ")
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Copy implements adapter.Adapter via SFTP.
func (a *Adapter) Copy(ctx context.Context, d target.Descriptor, direction adapter.CopyDirection, src, dst string, opts adapter.CopyOptions) error {
	if d.SSH == nil {
		return fmt.Errorf("ssh adapter: descriptor has no SSH parameters")
	}
	conn, err := a.pool.Acquire(ctx, *d.SSH)
	if err != nil {
		return err
	}
	defer a.pool.Release(conn)

	if direction == adapter.Upload {
		return conn.Upload(src, dst, opts.OnProgress)
	}
	return conn.Download(src, dst, opts.OnProgress)
}

// Close releases all pooled connections for d's fingerprint.
func (a *Adapter) Close(_ context.Context, d target.Descriptor) error {
	a.pool.CloseFingerprint(d.Fingerprint())
	return nil
}
