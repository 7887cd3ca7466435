// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envArgsVar   = "EMURUN_ARGS"
	localEnvFile = ".emurun.env"
)

// EnvArgs returns emurun arguments from the environment.
func EnvArgs() []string {
	return strings.Fields(os.Getenv(envArgsVar))
}

// LoadEnvDefaults populates the environment from a local env file. Variables
// already present in the environment win, so the file only provides
// defaults. A missing file is not an error.
//
// Since EMURUN_ARGS is read from the environment, the file can carry flag
// defaults as well.
func LoadEnvDefaults(file string) error {
	err := godotenv.Load(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}

// MergedArgs combines environment provided arguments with the given command
// line arguments. Command line arguments come last so they win for
// non-repeatable flags.
func MergedArgs(args []string) []string {
	return append(EnvArgs(), args...)
}
