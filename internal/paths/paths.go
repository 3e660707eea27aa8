// Package paths resolves skylock's default on-disk locations (chain state,
// file index, resume state, and config) following the XDG base directory
// spec, with environment-variable overrides for callers that need a
// non-default layout.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
)

// DefaultDataDir returns the directory skylock's DataDir (chain_state.json,
// indexes/, resume state) defaults to when a caller doesn't configure one
// explicitly. It respects SKYLOCK_DATA_DIR, then XDG_DATA_HOME, with a
// macOS-specific fallback to ~/.local/share matching the rest of this
// package's platform overrides.
func DefaultDataDir() string {
	if envDir := os.Getenv("SKYLOCK_DATA_DIR"); envDir != "" {
		return envDir
	}
	return filepath.Join(dataHome(), "skylock")
}

// DefaultConfigDir returns the directory skylock's non-secret configuration
// (backend endpoints, exclude patterns, default profile) defaults to.
func DefaultConfigDir() string {
	if envDir := os.Getenv("SKYLOCK_CONFIG_DIR"); envDir != "" {
		return envDir
	}
	return filepath.Join(configHome(), "skylock")
}

func dataHome() string {
	if xdgEnv := os.Getenv("XDG_DATA_HOME"); xdgEnv != "" {
		return xdgEnv
	}
	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share")
		}
	}
	return xdg.DataHome
}

func configHome() string {
	if xdgEnv := os.Getenv("XDG_CONFIG_HOME"); xdgEnv != "" {
		return xdgEnv
	}
	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config")
		}
	}
	return xdg.ConfigHome
}

// EnsureDir creates dir and any necessary parents, private by default
// (chain state and resume files must not be world-readable).
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}
