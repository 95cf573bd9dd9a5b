// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package xdg locates plugrt files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "plugrt"

// ConfigFileName is the configuration file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for plugrt.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for plugrt.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// PluginsDir is the per-user plugin directory.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// ConfigFile returns the path of the user configuration file, or "" when
// there is none.
func ConfigFile() (string, error) {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.In("xdg").With("path", path).Wrapf(err, "stat config file")
	case info.IsDir():
		return "", oops.In("xdg").With("path", path).Errorf("config file %s is a directory", path)
	}
	return path, nil
}

func dir(env, fallback string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), fallback)
	}
	return filepath.Join(base, appName)
}
