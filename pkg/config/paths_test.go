// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataDir(t *testing.T) {
	originalEnv := os.Getenv("SESSIONCORE_DATA_DIR")
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv("SESSIONCORE_DATA_DIR", originalEnv)
		} else {
			_ = os.Unsetenv("SESSIONCORE_DATA_DIR")
		}
	}()

	t.Run("default to ~/.sessioncore", func(t *testing.T) {
		_ = os.Unsetenv("SESSIONCORE_DATA_DIR")

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		expected := filepath.Join(homeDir, ".sessioncore")
		assert.Equal(t, expected, dataDir)
	})

	t.Run("use SESSIONCORE_DATA_DIR when set", func(t *testing.T) {
		customDir := "/custom/sessioncore/data"
		_ = os.Setenv("SESSIONCORE_DATA_DIR", customDir)

		dataDir := GetDataDir()

		assert.Equal(t, customDir, dataDir)
	})

	t.Run("expand ~ in SESSIONCORE_DATA_DIR", func(t *testing.T) {
		_ = os.Setenv("SESSIONCORE_DATA_DIR", "~/custom/.sessioncore")

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		expected := filepath.Join(homeDir, "custom", ".sessioncore")
		assert.Equal(t, expected, dataDir)
	})

	t.Run("make relative path absolute in SESSIONCORE_DATA_DIR", func(t *testing.T) {
		_ = os.Setenv("SESSIONCORE_DATA_DIR", "relative/path")

		dataDir := GetDataDir()

		assert.True(t, filepath.IsAbs(dataDir))
		assert.True(t, strings.HasSuffix(dataDir, "relative/path") || strings.HasSuffix(dataDir, "relative\\path"))
	})
}

func TestGetSubDir(t *testing.T) {
	originalEnv := os.Getenv("SESSIONCORE_DATA_DIR")
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv("SESSIONCORE_DATA_DIR", originalEnv)
		} else {
			_ = os.Unsetenv("SESSIONCORE_DATA_DIR")
		}
	}()

	t.Run("return subdirectory path", func(t *testing.T) {
		_ = os.Unsetenv("SESSIONCORE_DATA_DIR")

		backupsDir := GetSubDir("backups")

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		expected := filepath.Join(homeDir, ".sessioncore", "backups")
		assert.Equal(t, expected, backupsDir)
	})

	t.Run("respect SESSIONCORE_DATA_DIR for subdirectories", func(t *testing.T) {
		customDir := "/custom/sessioncore"
		_ = os.Setenv("SESSIONCORE_DATA_DIR", customDir)

		walDir := GetSubDir("wal")

		expected := filepath.Join(customDir, "wal")
		assert.Equal(t, expected, walDir)
	})
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "expand tilde",
			input:    "~/test/path",
			expected: filepath.Join(homeDir, "test", "path"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/absolute/path",
			expected: "/absolute/path",
		},
		{
			name:  "relative path made absolute",
			input: "relative/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)

			if tt.name == "relative path made absolute" {
				assert.True(t, filepath.IsAbs(result))
				assert.True(t, strings.HasSuffix(result, "relative/path") || strings.HasSuffix(result, "relative\\path"))
			} else {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}
