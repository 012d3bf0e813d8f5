// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package ptyio

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
)

// Start runs cmd attached to a new pseudo-terminal and returns the PTY's
// master end. The caller owns the returned file and must close it.
func Start(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

// Resize applies a window-size change to the PTY identified by f.
func Resize(f *os.File, width, height int) {
	_, _, _ = syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(syscall.TIOCSWINSZ),
		uintptr(unsafe.Pointer(&struct {
			h, w, x, y uint16
		}{uint16(height), uint16(width), 0, 0})))
}

// Copy proxies bytes from src to dst, used to pump the PTY in both
// directions for interactive sessions.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
