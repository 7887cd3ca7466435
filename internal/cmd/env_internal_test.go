// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvArgs(t *testing.T) {
	t.Setenv(envArgsVar, "-debug  -timeout=90s")

	assert.Equal(t, []string{"-debug", "-timeout=90s"}, EnvArgs())
}

func TestMergedArgs(t *testing.T) {
	t.Setenv(envArgsVar, "-debug")

	merged := MergedArgs([]string{"-timeout=90s", "bundle"})
	assert.Equal(t, []string{"-debug", "-timeout=90s", "bundle"}, merged)
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("EMURUN_TEST_PRESET", "keep")

	file := filepath.Join(t.TempDir(), localEnvFile)
	content := "EMURUN_TEST_PRESET=lose\nEMURUN_TEST_NEW=value\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	t.Setenv("EMURUN_TEST_NEW", "")
	require.NoError(t, os.Unsetenv("EMURUN_TEST_NEW"))

	require.NoError(t, LoadEnvDefaults(file))

	// Existing variables win over file values.
	assert.Equal(t, "keep", os.Getenv("EMURUN_TEST_PRESET"))
	assert.Equal(t, "value", os.Getenv("EMURUN_TEST_NEW"))
}

func TestLoadEnvDefaultsMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), localEnvFile)

	require.NoError(t, LoadEnvDefaults(missing))
}
