// SPDX-License-Identifier: MPL-2.0

// Package xconfig loads the optional EngineDefaults file (spec.md/SPEC_FULL.md
// §2 "Configuration"): search-path resolution and env-var overrides via
// Viper, TOML parsing via go-toml, mirroring the teacher's internal/config
// package. Loading is never required: xec.New() with zero-value options
// works standalone, and Loader holds no package-level mutable state so
// concurrent callers (and tests) never observe each other's config.
package xconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// AppName names the XDG/AppData subdirectory EngineDefaults is searched under.
const AppName = "xec"

const (
	fileName = "engine"
	fileExt  = "toml"
)

// SSHPoolDefaults mirrors sshpool.Options' tunable fields so a config file
// can size the pool without the caller importing sshpool directly.
type SSHPoolDefaults struct {
	MaxConnections int           `toml:"max_connections" mapstructure:"max_connections"`
	MinIdle        int           `toml:"min_idle" mapstructure:"min_idle"`
	IdleTimeout    time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
}

// EngineDefaults supplies defaults for shell, timeout, masking patterns and
// SSH pool sizing (SPEC_FULL.md §2 "Configuration"). Every field is
// optional; the zero value changes nothing.
type EngineDefaults struct {
	Shell           string          `toml:"shell" mapstructure:"shell"`
	TimeoutSeconds  int             `toml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaskingPatterns []string        `toml:"masking_patterns" mapstructure:"masking_patterns"`
	SSHPool         SSHPoolDefaults `toml:"ssh_pool" mapstructure:"ssh_pool"`
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (d EngineDefaults) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Loader resolves and parses an EngineDefaults file. A zero-value Loader
// searches the platform config directory and the current directory, same
// as the teacher's config.Load; unlike the teacher, no package-level
// globalConfig caches the result, so callers needing that get to choose
// whether and where to cache it themselves.
type Loader struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the directory lookup when set.
	ConfigDirPath string
}

// Load reads and parses the EngineDefaults file, returning the zero value
// (not an error) when no file is found: configuration is always optional.
func (l Loader) Load() (EngineDefaults, error) {
	v := viper.New()
	v.SetEnvPrefix("XEC")
	v.AutomaticEnv()

	if l.ConfigFilePath != "" {
		v.SetConfigFile(l.ConfigFilePath)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType(fileExt)
		if l.ConfigDirPath != "" {
			v.AddConfigPath(l.ConfigDirPath)
		} else if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return EngineDefaults{}, nil
		}
		return EngineDefaults{}, fmt.Errorf("xconfig: read config: %w", err)
	}

	var d EngineDefaults
	if err := v.Unmarshal(&d); err != nil {
		return EngineDefaults{}, fmt.Errorf("xconfig: parse config: %w", err)
	}
	return d, nil
}

// ConfigDir returns the platform-appropriate config directory for AppName.
func ConfigDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("xconfig: home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		dir = os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("xconfig: home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, AppName), nil
}

// WriteDefault writes d to the platform config directory as TOML, creating
// the directory if necessary. It does not overwrite an existing file.
func WriteDefault(d EngineDefaults) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("xconfig: create config dir: %w", err)
	}
	path := filepath.Join(dir, fileName+"."+fileExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := toml.Marshal(d)
	if err != nil {
		return fmt.Errorf("xconfig: marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
