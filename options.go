// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"time"

	"github.com/charmbracelet/log"

	"xec/xconfig"
)

// WithEngineDefaults applies an xconfig.EngineDefaults loaded by the
// caller, translating its fields into the equivalent EngineOptions. A zero
// value changes nothing, so applying an unloaded EngineDefaults is safe.
func WithEngineDefaults(d xconfig.EngineDefaults) EngineOption {
	return func(e *Engine) {
		if d.Shell != "" {
			e.defaultShell = ShellPath(d.Shell)
		}
		if d.TimeoutSeconds > 0 {
			e.defaultTimeout = d.Timeout()
		}
		if len(d.MaskingPatterns) > 0 {
			e.masking = e.masking.Merge(NewMaskingPolicy(d.MaskingPatterns...))
		}
	}
}

// EngineOption configures an Engine at construction, following the same
// functional-options idiom internal/lifecycle.Option uses for long-running
// components.
type EngineOption func(*Engine)

// WithDefaultEnv sets environment variables every Command built from this
// Engine inherits (merged under any per-Command env).
func WithDefaultEnv(env map[string]string) EngineOption {
	return func(e *Engine) {
		for k, v := range env {
			e.defaultEnv[k] = v
		}
	}
}

// WithDefaultCwd sets the working directory Commands inherit when they do
// not set their own.
func WithDefaultCwd(path string) EngineOption {
	return func(e *Engine) { e.defaultCwd = path }
}

// WithDefaultShell sets the shell mode Commands inherit when they do not
// set their own.
func WithDefaultShell(s Shell) EngineOption {
	return func(e *Engine) { e.defaultShell = s }
}

// WithDefaultTimeout sets the execution time budget Commands inherit when
// they do not set their own.
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithMaskingPatterns registers masking patterns applied to every Command
// the Engine builds, in addition to any per-Command patterns.
func WithMaskingPatterns(patterns ...string) EngineOption {
	return func(e *Engine) { e.masking = e.masking.Merge(NewMaskingPolicy(patterns...)) }
}

// WithAdapterSelector sets the AdapterSelector Commands inherit when they
// do not set their own and no explicit On() target is present
// (spec.md §4.4 "adapter selection").
func WithAdapterSelector(sel AdapterSelector) EngineOption {
	return func(e *Engine) { e.selector = sel }
}

// WithLogger replaces the Engine's structured logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}
