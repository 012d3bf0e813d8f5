// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// ExecResult mirrors adapter.ExecResult without importing package adapter,
// keeping sshpool usable independently of the engine's adapter contract.
type ExecResult struct {
	ExitCode int
	Signal   string
}

// ExecRequest describes one command to run over a session channel.
type ExecRequest struct {
	Command string // already shell-quoted/rendered by the caller
	Env     map[string]string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// Exec allocates a session channel on conn, sets env (best-effort: the
// server's AcceptEnv may reject any variable), streams stdin/stdout/stderr
// concurrently, and collects the exit status (spec.md §4.6).
func (conn *Connection) Exec(req ExecRequest) (ExecResult, error) {
	session, err := conn.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("sshpool: open session: %w", err)
	}
	conn.markOpenChannel(1)
	defer func() {
		session.Close()
		conn.markOpenChannel(-1)
	}()

	for k, v := range req.Env {
		// Errors are expected and ignored: most servers only accept a
		// short allowlist of variables via sshd_config's AcceptEnv.
		_ = session.Setenv(k, v)
	}

	session.Stdout = req.Stdout
	session.Stderr = req.Stderr
	if req.Stdin != nil {
		stdinPipe, err := session.StdinPipe()
		if err != nil {
			return ExecResult{}, fmt.Errorf("sshpool: stdin pipe: %w", err)
		}
		go func() {
			_, _ = io.Copy(stdinPipe, req.Stdin)
			stdinPipe.Close()
		}()
	}

	err = session.Run(req.Command)
	if err == nil {
		return ExecResult{ExitCode: 0}, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return ExecResult{
			ExitCode: exitErr.ExitStatus(),
			Signal:   string(exitErr.Signal()),
		}, nil
	}
	var exitMissing *ssh.ExitMissingError
	if errors.As(err, &exitMissing) {
		return ExecResult{ExitCode: -1}, nil
	}
	return ExecResult{}, fmt.Errorf("sshpool: command failed: %w", err)
}
