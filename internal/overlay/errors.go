// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import "errors"

var (
	// ErrRoleUnknown is returned for a role outside the closed role set.
	ErrRoleUnknown = errors.New("unknown layer role")

	// ErrKindUnknown is returned for a violation kind outside the closed
	// kind set.
	ErrKindUnknown = errors.New("unknown violation kind")

	// ErrBaseMissing is returned if a layer set does not start with a
	// base-runtime layer.
	ErrBaseMissing = errors.New("layer set must start with a base-runtime layer")

	// ErrBaseDuplicated is returned if a layer set contains more than one
	// base-runtime layer.
	ErrBaseDuplicated = errors.New("layer set must contain exactly one base-runtime layer")

	// ErrLayerIDEmpty is returned if a layer has no identifier.
	ErrLayerIDEmpty = errors.New("layer identifier must not be empty")

	// ErrLayerIDDuplicated is returned if two layers share an identifier.
	ErrLayerIDDuplicated = errors.New("layer identifiers must be unique")
)
