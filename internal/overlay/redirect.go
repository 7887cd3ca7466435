// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NewRedirectLayer builds a single-purpose base-refresh layer that provides
// guestPath as a symlink to target.
//
// Its main use is satisfying an entry binary whose declared interpreter path
// differs from where the base runtime actually ships the dynamic linker:
// adding a redirect for the declared path clears the unmet-interpreter
// violation on re-verification.
func NewRedirectLayer(dir, id, guestPath, target string) (Layer, error) {
	root := filepath.Join(dir, id)
	linkPath := filepath.Join(root, strings.TrimPrefix(guestPath, "/"))

	err := os.MkdirAll(filepath.Dir(linkPath), 0o755)
	if err != nil {
		return Layer{}, fmt.Errorf("create redirect tree: %w", err)
	}

	err = os.Symlink(target, linkPath)
	if err != nil && !os.IsExist(err) {
		return Layer{}, fmt.Errorf("create redirect link: %w", err)
	}

	return Layer{
		ID:   id,
		Root: root,
		Role: RoleBaseRefresh,
	}, nil
}
