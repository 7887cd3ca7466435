// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import "fmt"

// Role determines a layer's precedence in the merged view and what it is
// permitted to provide. It is a closed set: precedence and override rules
// are enforced exhaustively, not by convention.
type Role int

const (
	// RoleBaseRuntime is the foreign-architecture base system. Always first,
	// sole legitimate owner of the ABI boundary.
	RoleBaseRuntime Role = iota

	// RoleGPUSupport contributes GPU user space drivers on top of the base.
	RoleGPUSupport

	// RoleDependency contributes additional libraries for one bundle. It
	// must never touch the ABI boundary or base executable directories.
	RoleDependency

	// RoleBaseRefresh deliberately replaces parts of the base runtime. It is
	// evaluated separately and may own reserved paths.
	RoleBaseRefresh
)

var roleNames = map[Role]string{
	RoleBaseRuntime: "base-runtime",
	RoleGPUSupport:  "gpu-support",
	RoleDependency:  "dependency",
	RoleBaseRefresh: "base-refresh",
}

func (r Role) String() string {
	name, known := roleNames[r]
	if !known {
		return fmt.Sprintf("Role(%d)", int(r))
	}

	return name
}

// MarshalText implements [encoding.TextMarshaler].
func (r Role) MarshalText() ([]byte, error) {
	if _, known := roleNames[r]; !known {
		return nil, fmt.Errorf("%w: %d", ErrRoleUnknown, int(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (r *Role) UnmarshalText(text []byte) error {
	for role, name := range roleNames {
		if name == string(text) {
			*r = role
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrRoleUnknown, text)
}

// precedence orders layers in the merged view. Lower wins ownership
// conflicts.
func (r Role) precedence() int {
	switch r {
	case RoleBaseRuntime:
		return 0
	case RoleGPUSupport:
		return 1
	case RoleDependency:
		return 2
	case RoleBaseRefresh:
		return 3
	default:
		return 4
	}
}

// mayOwnReserved reports whether layers of this role may provide paths of
// the reserved set.
func (r Role) mayOwnReserved() bool {
	return r == RoleBaseRuntime || r == RoleBaseRefresh
}
