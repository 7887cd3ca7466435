// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"

	"github.com/emurun/emurun/internal/sys"
)

// stripSubtrees are the conventional executable and library locations inside
// an extracted bundle that are considered load-bearing.
var stripSubtrees = []string{
	"bin", "usr/bin", "usr/lib", "usr/lib64", "lib", "lib64",
}

// objcopyCandidates are probed in order when no explicit objcopy is
// configured.
var objcopyCandidates = []string{"objcopy", "llvm-objcopy", "eu-objcopy"}

// StripResult describes the outcome of a property note stripping pass.
type StripResult struct {
	Stripped []string `json:"stripped,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// ResolveObjcopy returns the objcopy implementation to use. If explicit is
// non-empty, it is used as is. Otherwise the well-known implementations are
// probed in order and [ErrNoObjcopy] is returned if none works.
func ResolveObjcopy(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	for _, candidate := range objcopyCandidates {
		err := exec.CommandContext(ctx, candidate, "--version").Run()
		if err == nil {
			return candidate, nil
		}
	}

	return "", ErrNoObjcopy
}

// StripISAPropertyNotes removes the GNU property note section from all
// foreign-architecture ELF files in the load-bearing subtrees of root.
//
// Bundles built with recent toolchains declare instruction set levels and
// CET in that note, which the emulator may reject even though the actual
// instruction stream would run fine. Stripping is best effort: files that
// objcopy cannot rewrite are recorded, not fatal.
func StripISAPropertyNotes(
	ctx context.Context,
	root string,
	arch sys.Arch,
	objcopy string,
) (StripResult, error) {
	var result StripResult

	for _, subtree := range stripSubtrees {
		dir := filepath.Join(root, subtree)

		err := filepath.WalkDir(dir, func(
			path string,
			entry fs.DirEntry,
			err error,
		) error {
			if err != nil {
				if path == dir {
					return fs.SkipDir
				}

				return err
			}

			if !entry.Type().IsRegular() {
				return nil
			}

			machine, isELF, err := sys.ReadELFMachine(path)
			if err != nil {
				return err
			}

			if !isELF || machine != arch.ELFMachine() {
				return nil
			}

			if !sys.HasGNUPropertyNote(path) {
				return nil
			}

			cmd := exec.CommandContext(
				ctx, objcopy, "--remove-section", ".note.gnu.property", path,
			)
			if err := cmd.Run(); err != nil {
				result.Failed = append(result.Failed, path)
				return nil
			}

			result.Stripped = append(result.Stripped, path)

			return nil
		})
		if err != nil {
			return result, fmt.Errorf("walk %s: %w", dir, err)
		}
	}

	return result, nil
}
