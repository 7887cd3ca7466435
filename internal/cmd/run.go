// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/emurun/emurun/internal/emurun"
	"github.com/emurun/emurun/internal/evidence"
	"github.com/emurun/emurun/internal/extract"
)

// Exit codes beyond the guest's own.
const (
	exitCodeSuccess = 0
	exitCodeBlocked = 125
	exitCodeError   = -1
)

// IO provides input and output details for the command.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func parseArgs(args []string, output io.Writer) (*flags, error) {
	if err := LoadEnvDefaults(localEnvFile); err != nil {
		return nil, err
	}

	flags := newFlags(output)

	if err := flags.ParseArgs(MergedArgs(args)); err != nil {
		return nil, err
	}

	return flags, nil
}

func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("user cache dir: %w", err)
	}

	return filepath.Join(base, name), nil
}

// applyDirDefaults fills the cache and output directories when no flags set
// them. The output directory is fresh per invocation, the cache persists.
func applyDirDefaults(flags *flags) error {
	cacheDir := string(flags.cacheDir)

	if cacheDir == "" {
		var err error

		cacheDir, err = defaultCacheDir()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	flags.cacheDir = FilePath(cacheDir)

	if flags.outputDir == "" {
		outputDir, err := os.MkdirTemp("", name+"-*")
		if err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		flags.outputDir = FilePath(outputDir)
	}

	flags.spec.OutputDir = string(flags.outputDir)

	return nil
}

func run(ctx context.Context, flags *flags) (*evidence.Record, error) {
	if err := ValidateFilePath(flags.spec.Bundle); err != nil {
		return nil, fmt.Errorf("bundle file: %w", err)
	}

	if err := applyDirDefaults(flags); err != nil {
		return nil, err
	}

	cache := extract.NewCache(string(flags.cacheDir))

	record, err := emurun.Run(ctx, &flags.spec, cache)

	if flags.archive != "" && record != nil {
		archiveErr := evidence.WriteArchive(
			string(flags.archive), record, record.Artifacts,
		)
		if archiveErr != nil {
			slog.Error("Failed to write evidence archive",
				"path", string(flags.archive),
				"error", archiveErr,
			)

			if err == nil {
				err = archiveErr
			}
		}
	}

	return record, err
}

func handleParseArgsError(err error) int {
	// [ErrHelp] is returned when help or version output was requested. Exit
	// without error in this case.
	if errors.Is(err, ErrHelp) {
		return exitCodeSuccess
	}

	// ParseArgs already prints errors, so just exit without another one.
	if !errors.Is(err, &ParseArgsError{}) {
		slog.Error(err.Error())
	}

	return exitCodeError
}

func handleRunError(err error) int {
	var policyErr *emurun.PolicyError
	if errors.As(err, &policyErr) {
		for _, violation := range policyErr.Violations {
			slog.Error("Verification violation",
				"kind", violation.Kind,
				"path", violation.Path,
				"layer", violation.Layer,
			)
		}

		return exitCodeBlocked
	}

	slog.Error(err.Error())

	return exitCodeError
}

// guestExitCode maps the execution outcome to the command's exit code. The
// guest process's own exit code wins when it was observed.
func guestExitCode(record *evidence.Record) int {
	execution := record.Execution
	if execution == nil {
		return exitCodeError
	}

	if execution.GuestExitCode != nil {
		return *execution.GuestExitCode
	}

	if execution.GuestSignal != nil {
		return 128 + *execution.GuestSignal
	}

	return execution.ExitCode
}

// Run is the main entry point for the CLI command.
func Run(ctx context.Context, args []string, cfg IO) int {
	flags, err := parseArgs(args, cfg.Stderr)
	if err != nil {
		setupLogging(cfg.Stderr, false)
		return handleParseArgsError(err)
	}

	setupLogging(cfg.Stderr, flags.debug)

	record, err := run(ctx, flags)
	if err != nil {
		return handleRunError(err)
	}

	slog.Debug("Wrote evidence record", "path", flags.spec.RecordPath())

	return guestExitCode(record)
}
