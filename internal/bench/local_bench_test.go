// SPDX-License-Identifier: MPL-2.0

package bench

import (
	"bytes"
	"context"
	"io"
	"testing"

	"xec/adapter"
	"xec/adapter/local"
	"xec/target"
)

// BenchmarkLocalAdapterSpawn measures end-to-end latency of spawning,
// running, and reaping a trivial child process through the Local Adapter
// (spec.md §4.5/C7) — the floor every other adapter is measured against,
// since SSH/Docker/Kubernetes all add a transport hop on top of this cost.
func BenchmarkLocalAdapterSpawn(b *testing.B) {
	a := local.New()
	ctx := context.Background()
	d := target.Local()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := a.Exec(ctx, d, adapter.ExecRequest{
			Line:   "true",
			Stdout: io.Discard,
			Stderr: io.Discard,
		})
		if err != nil {
			b.Fatalf("exec failed: %v", err)
		}
		if res.ExitCode != 0 {
			b.Fatalf("unexpected exit code: %d", res.ExitCode)
		}
	}
}

// BenchmarkLocalAdapterSpawnWithOutput measures the added cost of
// capturing a nontrivial amount of stdout through the adapter's piping,
// isolating process-spawn overhead (BenchmarkLocalAdapterSpawn) from
// stdio-copy overhead.
func BenchmarkLocalAdapterSpawnWithOutput(b *testing.B) {
	a := local.New()
	ctx := context.Background()
	d := target.Local()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stdout bytes.Buffer
		res, err := a.Exec(ctx, d, adapter.ExecRequest{
			Line:   "printf '%.0sx' $(seq 1 1000)",
			Stdout: &stdout,
			Stderr: io.Discard,
		})
		if err != nil {
			b.Fatalf("exec failed: %v", err)
		}
		if res.ExitCode != 0 {
			b.Fatalf("unexpected exit code: %d", res.ExitCode)
		}
	}
}

// BenchmarkLocalAdapterArgv measures spawn latency for the argv path
// (shell disabled), isolating exec.Command overhead from the shell-line
// rendering BenchmarkLocalAdapterSpawn also pays.
func BenchmarkLocalAdapterArgv(b *testing.B) {
	a := local.New()
	ctx := context.Background()
	d := target.Local()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := a.Exec(ctx, d, adapter.ExecRequest{
			ShellDisabled: true,
			Argv:          []string{"true"},
			Stdout:        io.Discard,
			Stderr:        io.Discard,
		})
		if err != nil {
			b.Fatalf("exec failed: %v", err)
		}
		if res.ExitCode != 0 {
			b.Fatalf("unexpected exit code: %d", res.ExitCode)
		}
	}
}
