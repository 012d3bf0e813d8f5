// SPDX-License-Identifier: MPL-2.0

// Package result defines the Execution Result (spec.md §3/§4.2): the
// value a Deferred Command Handle resolves to once the underlying
// process, SSH session, or container exec has finished.
package result

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"xec/target"
)

// Result is the outcome of one command execution.
type Result struct {
	Stdout string
	Stderr string

	ExitCode int
	// Signal is the name of the signal that terminated the process, if
	// any (e.g. "SIGKILL"); empty when the process exited normally.
	Signal string

	StartTime time.Time
	EndTime   time.Time

	// Command is the fully rendered, masked command string or argv
	// summary, suitable for logging.
	Command string
	// Target is a snapshot of the descriptor the command ran against.
	Target target.Descriptor

	// Nothrow records whether the originating Command Model had nothrow
	// set, which governs the meaning of Ok.
	Nothrow bool
}

// Duration returns EndTime.Sub(StartTime).
func (r Result) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Ok reports whether the execution should be treated as successful:
// exit code zero, or nothrow was requested (spec.md §3 Execution Result).
func (r Result) Ok() bool { return r.ExitCode == 0 || r.Nothrow }

// Text returns stdout with a single trailing newline trimmed, matching
// the `.text()` result transformer (spec.md §4.3).
func (r Result) Text() string {
	return strings.TrimSuffix(r.Stdout, "\n")
}

// Lines splits stdout on newlines, dropping one trailing empty element
// produced by a final newline, matching the `.lines()` transformer.
func (r Result) Lines() []string {
	trimmed := strings.TrimSuffix(r.Stdout, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// Buffer returns stdout as raw bytes, matching the `.buffer()` transformer.
func (r Result) Buffer() []byte { return []byte(r.Stdout) }

// JSON unmarshals stdout into v, matching the `.json()` transformer.
func (r Result) JSON(v any) error {
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		return fmt.Errorf("result: stdout is not valid JSON: %w", err)
	}
	return nil
}

// String renders a short, secret-free summary of the result for logging.
func (r Result) String() string {
	return fmt.Sprintf("%s on %s -> exit %d in %s", r.Command, r.Target, r.ExitCode, r.Duration())
}
