// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package extract turns a validated embedded payload into a filesystem tree.
//
// Extraction is an external collaborator: the package ships two backend
// implementations selected by configuration, and a process-wide cache that
// guarantees at most one extraction in flight per blob content identity.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/emurun/emurun/internal/bundle"
)

// Backend extracts the embedded filesystem image of a blob into dest.
//
// Implementations are opaque services to the pipeline: they either populate
// dest completely or return their own diagnostic wrapped in a
// [BackendError].
type Backend interface {
	Name() string
	Extract(
		ctx context.Context,
		blobPath string,
		payload bundle.ValidatedPayload,
		dest string,
	) error
}

// UnsquashfsBackend extracts by spawning the external unsquashfs program
// with the payload offset.
type UnsquashfsBackend struct {
	// Executable overrides the unsquashfs program to spawn.
	Executable string
}

// Name implements [Backend].
func (b *UnsquashfsBackend) Name() string {
	return "unsquashfs"
}

// Extract implements [Backend].
func (b *UnsquashfsBackend) Extract(
	ctx context.Context,
	blobPath string,
	payload bundle.ValidatedPayload,
	dest string,
) error {
	executable := b.Executable
	if executable == "" {
		executable = "unsquashfs"
	}

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, executable,
		"-no-xattrs",
		"-o", strconv.FormatUint(payload.Offset, 10),
		"-d", dest,
		blobPath,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &BackendError{
			Backend:    b.Name(),
			Err:        err,
			Diagnostic: stderr.String(),
		}
	}

	return nil
}

// SelfExtractBackend extracts by running the bundle itself with its
// conventional self-extraction flag. This only works when the host can
// execute the bundle's architecture, so it is not the default.
type SelfExtractBackend struct{}

// Name implements [Backend].
func (b *SelfExtractBackend) Name() string {
	return "self-extract"
}

// Extract implements [Backend].
func (b *SelfExtractBackend) Extract(
	ctx context.Context,
	blobPath string,
	_ bundle.ValidatedPayload,
	dest string,
) error {
	workDir, err := os.MkdirTemp(filepath.Dir(dest), "self-extract-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	var stderr bytes.Buffer

	// The bundle extracts into squashfs-root below its working directory.
	cmd := exec.CommandContext(ctx, blobPath, "--appimage-extract")
	cmd.Dir = workDir
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &BackendError{
			Backend:    b.Name(),
			Err:        err,
			Diagnostic: stderr.String(),
		}
	}

	err = os.Rename(filepath.Join(workDir, "squashfs-root"), dest)
	if err != nil {
		return &BackendError{Backend: b.Name(), Err: err}
	}

	return nil
}
