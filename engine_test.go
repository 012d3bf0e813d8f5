// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xec/adapter/local"
	"xec/xecerr"
)

func newLocalEngine(opts ...EngineOption) *Engine {
	e := New(opts...)
	e.RegisterAdapter(local.New(), "")
	return e
}

func TestEngine_CommandCapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	res, err := e.Command("echo hello").Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hello\n", res.Stdout)
}

func TestEngine_NonZeroExitReturnsCommandError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	_, err := e.Command("exit 3").Await(context.Background())
	require.Error(t, err)
}

func TestEngine_NothrowSuppressesCommandError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	res, err := e.Command("exit 3").WithNothrow().Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}

func TestEngine_MaskingAppliesToResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine(WithMaskingPatterns("secret"))
	res, err := e.Command("echo secret-value").Await(context.Background())
	require.NoError(t, err)
	require.Contains(t, res.Stdout, "***MASKED***")
	require.NotContains(t, res.Stdout, "secret-value")
}

func TestEngine_CacheReturnsSameResultWithinTTL(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine()
	h1 := e.Command("echo cached").WithCwd("")
	h1 = h1.WithCache(CachePolicy{Key: "k1", TTL: time.Minute})
	res1, err := h1.Await(context.Background())
	require.NoError(t, err)

	h2 := e.Command("echo different-but-same-key")
	h2 = h2.WithCache(CachePolicy{Key: "k1", TTL: time.Minute})
	res2, err := h2.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, res1.Stdout, res2.Stdout)
}

func TestEngine_TimeoutProducesTimeoutError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process-group signalling is posix-only")
	}
	e := newLocalEngine()
	_, err := e.Command("sleep 5").WithTimeout(50 * time.Millisecond).Await(context.Background())
	require.Error(t, err)
	var timeoutErr *xecerr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestEngine_DefaultEnvInherited(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell line")
	}
	e := newLocalEngine(WithDefaultEnv(map[string]string{"XEC_TEST_VAR": "hi"}))
	res, err := e.Command("echo $XEC_TEST_VAR").Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hi\n", res.Stdout)
}
