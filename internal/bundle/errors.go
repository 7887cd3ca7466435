// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import "errors"

var (
	// ErrNoPayload is returned if a blob does not contain a structurally
	// valid embedded filesystem image.
	ErrNoPayload = errors.New("no valid embedded payload found")

	// ErrNoLaunchScript is returned if an extracted bundle tree does not
	// contain the conventional launch script.
	ErrNoLaunchScript = errors.New("launch script not found")

	// ErrEmptyShebang is returned if a launch script declares an interpreter
	// directive without an interpreter path.
	ErrEmptyShebang = errors.New("interpreter directive without interpreter")

	// ErrNoObjcopy is returned if no usable objcopy implementation is found
	// for stripping property notes.
	ErrNoObjcopy = errors.New("no usable objcopy found")
)
