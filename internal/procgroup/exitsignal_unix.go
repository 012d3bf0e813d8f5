// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package procgroup

import (
	"os"
	"syscall"
)

// ExitSignal returns the name of the signal that terminated state's
// process, or "" if it exited normally.
func ExitSignal(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return ""
	}
	return status.Signal().String()
}
