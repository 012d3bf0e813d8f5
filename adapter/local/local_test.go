// SPDX-License-Identifier: MPL-2.0

package local

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xec/adapter"
	"xec/target"
)

func TestAdapter_ExecCapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	a := New()
	var stdout bytes.Buffer
	res, err := a.Exec(context.Background(), target.Local(), adapter.ExecRequest{
		Line:   "echo hello",
		Stdout: &stdout,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hello\n", stdout.String())
}

func TestAdapter_ExecNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	a := New()
	res, err := a.Exec(context.Background(), target.Local(), adapter.ExecRequest{
		Line: "exit 7",
	})
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestAdapter_ExecDisabledShellRequiresArgv(t *testing.T) {
	a := New()
	_, err := a.Exec(context.Background(), target.Local(), adapter.ExecRequest{
		ShellDisabled: true,
	})
	require.Error(t, err)
}

func TestAdapter_ExecArgvDirect(t *testing.T) {
	a := New()
	var stdout bytes.Buffer
	res, err := a.Exec(context.Background(), target.Local(), adapter.ExecRequest{
		Argv:          []string{"echo", "hi"},
		ShellDisabled: true,
		Stdout:        &stdout,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hi\n", stdout.String())
}

func TestAdapter_ExecTimeoutKillsProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process-group signalling is posix-only")
	}
	a := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Exec(ctx, target.Local(), adapter.ExecRequest{
		Line: "sleep 5",
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}
