// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "keyauth"

// Dir returns the XDG config directory for keyauth.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultFile is the config file used when --config is not given.
func DefaultFile() string {
	return filepath.Join(Dir(), "config.yaml")
}

// resolvePath returns the file Load should read. An explicit path is always
// used; otherwise DefaultFile is used only if it exists.
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	candidate := DefaultFile()
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
