// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config resolves filesystem locations used by the session core:
// the default database directory and its subdirectories.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the directory sessioncore stores its SQLite database
// and related artifacts in.
//
// Priority:
//  1. SESSIONCORE_DATA_DIR environment variable (if set and non-empty)
//  2. ~/.sessioncore (default)
//
// The returned path is always absolute. Tilde (~) in SESSIONCORE_DATA_DIR is
// expanded to the user's home directory. Relative paths are converted to
// absolute paths.
func GetDataDir() string {
	if dataDir := os.Getenv("SESSIONCORE_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".sessioncore"
	}
	return filepath.Join(homeDir, ".sessioncore")
}

// GetSubDir returns a subdirectory within the data directory.
// Example: GetSubDir("backups") returns ~/.sessioncore/backups
func GetSubDir(subdir string) string {
	return filepath.Join(GetDataDir(), subdir)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
