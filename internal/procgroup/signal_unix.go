// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package procgroup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Prepare puts cmd in a new process group so that TerminateGroup/KillGroup
// can reach children spawned by a shell (e.g. `sh -c "sleep 100 &"`)
// instead of only the direct child.
func Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// TerminateGroup sends SIGTERM to the whole process group rooted at pid.
func TerminateGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGTERM)
}

// KillGroup sends SIGKILL to the whole process group rooted at pid.
func KillGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}
