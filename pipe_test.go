// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_PipeChainsStdoutToStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix shell lines")
	}
	e := newLocalEngine()
	upper := e.Argv("tr", "a-z", "A-Z")
	tail := e.Command("echo hello").Pipe(upper)

	res, err := tail.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "HELLO\n", res.Stdout)
}

func TestHandle_PipeRejectsAfterStart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix shell lines")
	}
	e := newLocalEngine()
	head := e.Command("echo hi")
	head.Start(context.Background())
	next := e.Command("cat")

	piped := head.Pipe(next)
	_, err := piped.Await(context.Background())
	require.Error(t, err)
}

func TestEngine_SinkDiscardDropsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix shell lines")
	}
	e := newLocalEngine()
	res, err := e.Command("echo hi").WithStdout(DiscardSink()).Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", res.Stdout)
}

func TestEngine_SinkLineInvokesCallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix shell lines")
	}
	e := newLocalEngine()
	var lines []string
	res, err := e.Command("printf 'a\\nb\\n'").WithStdout(LineSink(func(l string) {
		lines = append(lines, l)
	})).Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", res.Stdout)
	require.Equal(t, []string{"a\n", "b\n"}, lines)
}

func TestEngine_SinkWriterTeesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix shell lines")
	}
	e := newLocalEngine()
	var sb strings.Builder
	res, err := e.Command("echo teed").WithStdout(WriterSink(&sb)).Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "teed\n", res.Stdout)
	require.Equal(t, "teed\n", sb.String())
}
