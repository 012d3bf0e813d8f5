// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/sftp"

	"xec/target"
)

var echoDeprecationOnce sync.Once

var sudoLogger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "ssh-sudo"})

// WrapSudo rewraps command to run under sudo according to method,
// returning the command to execute and a cleanup func that removes any
// uploaded helper file. password is never logged (spec.md §4.6).
//
// askpass (the secure default): uploads a short-lived askpass helper to a
// private tempfile (0700), sets SUDO_ASKPASS, and runs `sudo -A <cmd>`;
// the helper is removed on every exit path, including failure.
// stdin: feeds the password on the command's own stdin via `sudo -S`.
// echo: pipes the password through `echo | sudo -S`; briefly visible in
// the process table, so this method logs a one-time deprecation warning.
func WrapSudo(conn *Connection, method target.SudoMethod, password, command string) (wrapped string, env map[string]string, cleanup func(), err error) {
	switch method {
	case target.SudoMethodNone, "":
		return command, nil, func() {}, nil

	case target.SudoMethodAskpass:
		return wrapAskpass(conn, password, command)

	case target.SudoMethodStdin:
		return fmt.Sprintf("sudo -S -p '' %s", command), nil, func() {}, nil

	case target.SudoMethodEcho:
		echoDeprecationOnce.Do(func() {
			sudoLogger.Warn("sudo method \"echo\" briefly exposes the password in the remote process table; prefer \"askpass\"")
		})
		return fmt.Sprintf("echo %s | sudo -S -p '' %s", shQuote(password), command), nil, func() {}, nil

	default:
		return "", nil, func() {}, fmt.Errorf("sshpool: unknown sudo method %q", method)
	}
}

func wrapAskpass(conn *Connection, password, command string) (string, map[string]string, func(), error) {
	client, err := sftp.NewClient(conn.client)
	if err != nil {
		return "", nil, nil, fmt.Errorf("sshpool: askpass sftp client: %w", err)
	}
	defer client.Close()

	// A random suffix, not just the pid, keeps two concurrent
	// sudo-requiring commands from the same process from racing on the
	// same remote file: one's cleanup could otherwise delete the helper
	// while the other's `sudo -A` is still reading it.
	remotePath := fmt.Sprintf("/tmp/.xec-askpass-%d-%s", os.Getpid(), randomSuffix())
	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return "", nil, nil, fmt.Errorf("sshpool: create askpass helper: %w", err)
	}
	if _, err := f.Write([]byte(askpassScript(password))); err != nil {
		f.Close()
		_ = client.Remove(remotePath)
		return "", nil, nil, fmt.Errorf("sshpool: write askpass helper: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(remotePath)
		return "", nil, nil, fmt.Errorf("sshpool: close askpass helper: %w", err)
	}
	if err := client.Chmod(remotePath, 0o700); err != nil {
		_ = client.Remove(remotePath)
		return "", nil, nil, fmt.Errorf("sshpool: chmod askpass helper: %w", err)
	}

	cleanup := func() {
		c, err := sftp.NewClient(conn.client)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.Remove(remotePath)
	}

	env := map[string]string{"SUDO_ASKPASS": remotePath}
	wrapped := fmt.Sprintf("sudo -A %s", command)
	return wrapped, env, cleanup, nil
}

// askpassScript renders the one-line askpass helper sudo invokes via
// SUDO_ASKPASS. The password is passed to printf as its own shell-quoted
// argument, not spliced into the format string: an unescaped password
// could otherwise close the single-quoted literal early, corrupting the
// script (the same class of bug the echo method avoids via shQuote three
// lines away).
func askpassScript(password string) string {
	return fmt.Sprintf("#!/bin/sh\nprintf '%%s' %s\n", shQuote(password))
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// randomSuffix returns a short random hex string used to make the askpass
// helper's remote path unique per call.
func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
