// SPDX-License-Identifier: MPL-2.0

package concurrency

import (
	"context"
	"io"
)

// Stage is one command in a Pipe chain: it must expose its stdin writer
// and stdout reader so Pipe can wire consecutive stages together without
// knowing which adapter produced them.
type Stage interface {
	StdinWriter() io.WriteCloser
	StdoutReader() io.ReadCloser
	Run(ctx context.Context) error
}

// Pipe wires stages[0].Stdout -> stages[1].Stdin -> ... -> stages[n-1],
// then runs every stage concurrently so back-pressure propagates through
// the stdio plumbing exactly as a shell pipeline would (spec.md §4.9
// `pipe(a, b, c, ...)`). A failure in any stage cancels ctx, which
// upstream stages are expected to observe and unwind from.
func Pipe(ctx context.Context, stages ...Stage) error {
	if len(stages) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	copyDone := make(chan error, len(stages)-1)
	for i := 0; i < len(stages)-1; i++ {
		upstream := stages[i]
		downstream := stages[i+1]
		go func() {
			_, err := io.Copy(downstream.StdinWriter(), upstream.StdoutReader())
			downstream.StdinWriter().Close()
			copyDone <- err
		}()
	}

	runDone := make(chan error, len(stages))
	for _, stage := range stages {
		stage := stage
		go func() {
			err := stage.Run(ctx)
			if err != nil {
				cancel()
			}
			runDone <- err
		}()
	}

	var firstErr error
	for i := 0; i < len(stages); i++ {
		if err := <-runDone; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := 0; i < len(stages)-1; i++ {
		<-copyDone
	}
	return firstErr
}
