// Package paths provides centralized path resolution for autoreply.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the config file looked up in the working and base directories.
const ConfigFileName = "autoreply.yaml"

// BaseDir returns the autoreply base directory (~/.autoreply).
// AUTOREPLY_HOME overrides it.
func BaseDir() (string, error) {
	if dir := os.Getenv("AUTOREPLY_HOME"); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".autoreply"), nil
}

// DataPath returns a path within the data directory (~/.autoreply/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config path.
// Priority: explicit > $AUTOREPLY_CONFIG > ./autoreply.yaml|toml > ~/.autoreply/autoreply.yaml|toml
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return ExpandTilde(explicit)
	}
	if env := os.Getenv("AUTOREPLY_CONFIG"); env != "" {
		return ExpandTilde(env)
	}

	candidates := []string{ConfigFileName, "autoreply.toml"}
	for _, local := range candidates {
		if _, err := os.Stat(local); err == nil {
			absPath, err := filepath.Abs(local)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return absPath, nil
		}
	}

	for _, name := range candidates {
		globalPath, err := DataPath(name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(globalPath); err == nil {
			return globalPath, nil
		}
	}

	return "", nil
}

// DefaultConfigPath returns the default location for new configs.
func DefaultConfigPath() (string, error) {
	return DataPath(ConfigFileName)
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// Resolve expands ~ and places relative names under the data directory.
// Absolute paths are returned as-is.
func Resolve(path string) (string, error) {
	expanded, err := ExpandTilde(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return DataPath(expanded)
}
