// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI command entry point for emurun. It handles
// flag parsing, environment defaults, error handling and exit codes.
package cmd
