// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"io"
	"log/slog"
)

// setupLogging installs the process-wide logger. Debug mode lowers the level
// to expose the pipeline breadcrumbs and adds source positions to attribute
// them to their pipeline stage.
func setupLogging(writer io.Writer, debug bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}

	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(writer, opts)))
}
