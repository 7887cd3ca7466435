// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import (
	"cmp"
	"fmt"
	"slices"
)

// ViolationKind is the closed set of invariant violations the verifier can
// detect.
type ViolationKind int

const (
	// ViolationArchMismatch marks machine code for the wrong architecture in
	// a load-bearing path of a dependency layer.
	ViolationArchMismatch ViolationKind = iota

	// ViolationABIBoundaryOverride marks a layer providing a path owned by a
	// higher-precedence layer or by the fixed ABI boundary.
	ViolationABIBoundaryOverride

	// ViolationReservedExecutablePath marks a layer providing a path under
	// the base-owned executable directories.
	ViolationReservedExecutablePath

	// ViolationUnmetInterpreter marks an entry binary whose declared
	// interpreter path does not resolve in the merged view.
	ViolationUnmetInterpreter

	// ViolationUnmetDependency marks a required shared library name that
	// does not resolve in the merged view.
	ViolationUnmetDependency

	// ViolationUnsupportedISAFeature marks a declared instruction set
	// feature the emulator does not support.
	ViolationUnsupportedISAFeature
)

var kindNames = map[ViolationKind]string{
	ViolationArchMismatch:           "architecture-mismatch",
	ViolationABIBoundaryOverride:    "abi-boundary-override",
	ViolationReservedExecutablePath: "reserved-executable-path",
	ViolationUnmetInterpreter:       "unmet-interpreter",
	ViolationUnmetDependency:        "unmet-dependency",
	ViolationUnsupportedISAFeature:  "unsupported-isa-feature",
}

func (k ViolationKind) String() string {
	name, known := kindNames[k]
	if !known {
		return fmt.Sprintf("ViolationKind(%d)", int(k))
	}

	return name
}

// MarshalText implements [encoding.TextMarshaler].
func (k ViolationKind) MarshalText() ([]byte, error) {
	if _, known := kindNames[k]; !known {
		return nil, fmt.Errorf("%w: %d", ErrKindUnknown, int(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *ViolationKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrKindUnknown, text)
}

// blocking reports whether a violation of this kind halts the pipeline under
// the given policy. Declared instruction set features are the only kind with
// a policy choice; see [ISAPolicy].
func (k ViolationKind) blocking(policy ISAPolicy) bool {
	if k == ViolationUnsupportedISAFeature {
		return policy == ISAAuthoritative
	}

	return true
}

// Violation is one detected invariant violation. A non-empty list of
// blocking violations is authoritative: the pipeline must not proceed past
// verification.
type Violation struct {
	// Kind classifies the violation.
	Kind ViolationKind `json:"kind"`

	// Path is the offending path, or the unresolved library name for
	// unmet-dependency violations.
	Path string `json:"path"`

	// Layer identifies the offending layer. Empty for violations of the
	// entry binary's requirements, which no single layer causes.
	Layer string `json:"layer,omitempty"`
}

func (v Violation) String() string {
	msg := v.Kind.String() + ": " + v.Path
	if v.Layer != "" {
		msg += " (layer " + v.Layer + ")"
	}

	return msg
}

// sortViolations orders a violation list deterministically so identical
// inputs yield identical lists and records stay diffable.
func sortViolations(violations []Violation) {
	slices.SortFunc(violations, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Path, b.Path),
			cmp.Compare(a.Layer, b.Layer),
		)
	})
}
