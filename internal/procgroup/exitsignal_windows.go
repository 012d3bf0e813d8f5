// SPDX-License-Identifier: MPL-2.0

//go:build windows

package procgroup

import "os"

// ExitSignal always returns "" on Windows; there is no POSIX signal model.
func ExitSignal(state *os.ProcessState) string { return "" }
