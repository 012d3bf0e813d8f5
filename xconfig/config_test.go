// SPDX-License-Identifier: MPL-2.0

package xconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader_NoFileReturnsZeroValue(t *testing.T) {
	l := Loader{ConfigDirPath: t.TempDir()}
	d, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, EngineDefaults{}, d)
}

func TestLoader_LoadsExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	contents := `shell = "/bin/bash"
timeout_seconds = 30
masking_patterns = ["secret", "token"]

[ssh_pool]
max_connections = 4
min_idle = 1
idle_timeout = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	l := Loader{ConfigFilePath: path}
	d, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", d.Shell)
	require.Equal(t, 30*time.Second, d.Timeout())
	require.ElementsMatch(t, []string{"secret", "token"}, d.MaskingPatterns)
	require.Equal(t, 4, d.SSHPool.MaxConnections)
}

func TestWriteDefault_DoesNotOverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	require.NoError(t, WriteDefault(EngineDefaults{Shell: "/bin/sh"}))

	path := filepath.Join(dir, AppName, "engine.toml")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, WriteDefault(EngineDefaults{Shell: "/bin/zsh"}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
