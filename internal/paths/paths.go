// SPDX-License-Identifier: AGPL-3.0-or-later

// Package paths centralises assistd data-directory resolution.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

const (
	appDirName      = "assistd"
	envDataDir      = "ASSISTD_DATA_DIR"
	envXDGDataHome  = "XDG_DATA_HOME"
	envProgramData  = "PROGRAMDATA"
	windowsVendor   = "Assistd"
	windowsDataLeaf = "data"
)

var override atomic.Pointer[string]

// SetDataDirOverride allows callers (e.g. the CLI flag layer) to pin the data
// directory to an explicit location. Passing an empty string clears the override.
func SetDataDirOverride(dir string) {
	if dir == "" {
		override.Store(nil)
		return
	}
	clean := filepath.Clean(dir)
	override.Store(&clean)
}

// DataDir returns the absolute directory assistd should use for persistence.
// Order of precedence:
//  1. Explicit override provided via SetDataDirOverride.
//  2. ASSISTD_DATA_DIR environment variable.
//  3. Platform defaults:
//     * POSIX: $XDG_DATA_HOME/assistd, or ~/.local/share/assistd
//     * Windows: %ProgramData%\Assistd\data
//  4. Fallback: current working directory ./assistd (mainly for constrained envs)
func DataDir() string {
	if ptr := override.Load(); ptr != nil && *ptr != "" {
		return *ptr
	}

	if dir := os.Getenv(envDataDir); dir != "" {
		return filepath.Clean(dir)
	}

	if runtime.GOOS == "windows" {
		if base := os.Getenv(envProgramData); base != "" {
			return filepath.Join(base, windowsVendor, windowsDataLeaf)
		}
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, "AppData", "Local", windowsVendor, windowsDataLeaf)
		}
	}

	if xdg := os.Getenv(envXDGDataHome); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", appDirName)
	}

	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		return filepath.Join(cwd, appDirName)
	}

	// As an absolute last resort fall back to the OS temp dir.
	return filepath.Join(os.TempDir(), appDirName)
}

// DataPath joins the assistd data directory with the supplied path elements.
func DataPath(elem ...string) string {
	parts := append([]string{DataDir()}, elem...)
	return filepath.Join(parts...)
}

// EnsureDataPath ensures that the directory composed of data dir + elem exists.
// It returns the created/resolved path.
func EnsureDataPath(elem ...string) (string, error) {
	path := DataPath(elem...)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", err
	}
	return path, nil
}
