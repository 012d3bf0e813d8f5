// SPDX-License-Identifier: MPL-2.0

//go:build windows

package procgroup

import "os/exec"

// Prepare is a no-op on Windows; process groups are modeled with job
// objects, which exec.Cmd does not expose. TerminateGroup/KillGroup fall
// back to killing the direct child only.
func Prepare(cmd *exec.Cmd) {}

// TerminateGroup is unsupported on Windows; callers fall back to killing
// the direct process.
func TerminateGroup(pid int) error { return errUnsupported }

// KillGroup is unsupported on Windows; callers fall back to killing the
// direct process.
func KillGroup(pid int) error { return errUnsupported }
