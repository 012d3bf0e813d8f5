// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"xec/xecerr"
)

func TestHandle_StartIsIdempotent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	h := e.Command("echo once")
	ctx := context.Background()
	h.Start(ctx)
	h.Start(ctx) // no-op second call, must not relaunch or panic
	res, err := h.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "once\n", res.Stdout)
}

func TestHandle_MutateAfterStartReturnsStateError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	h := e.Command("echo hi")
	ctx := context.Background()
	h.Start(ctx)

	mutated := h.WithCwd("/tmp")
	_, err := mutated.Await(ctx)
	require.Error(t, err)
	var stateErr *xecerr.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestHandle_CancelPendingNeverRuns(t *testing.T) {
	e := newLocalEngine()
	h := e.Command("echo should-not-run")
	h.Cancel()
	require.Equal(t, HandleStateDone, h.State())

	res, err := h.Await(context.Background())
	require.Error(t, err)
	require.Nil(t, res)
	var cancelErr *xecerr.CancelledError
	require.ErrorAs(t, err, &cancelErr)
}

func TestHandle_AwaitAutoStartsPending(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	h := e.Command("echo auto-start")
	require.Equal(t, HandleStatePending, h.State())

	res, err := h.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "auto-start\n", res.Stdout)
}
