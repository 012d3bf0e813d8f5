// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultEngine_LazyAndStable(t *testing.T) {
	e1 := DefaultEngine()
	e2 := DefaultEngine()
	require.Same(t, e1, e2)
}

func TestSetDefaultEngine_Replaces(t *testing.T) {
	original := DefaultEngine()
	replacement := New()
	SetDefaultEngine(replacement)
	t.Cleanup(func() { SetDefaultEngine(original) })

	require.Same(t, replacement, DefaultEngine())
}
