// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/emurun/emurun/internal/sys"
)

// reservedABIPaths is the fixed ABI boundary: the foreign-architecture
// dynamic linker and the core C/C++ runtime libraries. Only base-runtime and
// base-refresh layers may provide them.
var reservedABIPaths = map[string]struct{}{
	"/lib64/ld-linux-x86-64.so.2":     {},
	"/usr/lib64/ld-linux-x86-64.so.2": {},
	"/lib64/libc.so.6":                {},
	"/usr/lib64/libc.so.6":            {},
	"/lib64/libstdc++.so.6":           {},
	"/usr/lib64/libstdc++.so.6":       {},
	"/lib64/libgcc_s.so.1":            {},
	"/usr/lib64/libgcc_s.so.1":        {},
}

// reservedExecDirs are the conventional executable directories of the base
// runtime. Dependency and GPU layers must stay library-focused.
var reservedExecDirs = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin"}

// libraryDirs are the directory prefixes searched when resolving required
// shared library names against the merged view.
var libraryDirs = []string{"/lib", "/lib64", "/usr/lib", "/usr/lib64"}

// loadBearingDirs are the subtrees of a dependency layer whose machine code
// the guest actually loads. Only these are architecture-scanned.
var loadBearingDirs = []string{
	"bin", "sbin", "usr/bin", "usr/sbin",
	"lib", "lib64", "usr/lib", "usr/lib64", "opt",
}

// archScanAllowlist are path prefixes that legitimately carry ELF objects
// never loaded by the guest user space, e.g. kernel program objects or
// firmware blobs.
var archScanAllowlist = []string{
	"usr/lib/bpf",
	"usr/lib64/bpf",
	"usr/lib/firmware",
	"usr/share/seabios",
}

// ISAPolicy decides how declared instruction set feature notes are treated.
// Whether such notes are an authoritative requirement or merely advisory
// metadata is deliberately a configuration choice.
type ISAPolicy int

const (
	// ISAAuthoritative fails verification for any declared feature the
	// emulator does not support.
	ISAAuthoritative ISAPolicy = iota

	// ISAAdvisory records unsupported declared features as non-blocking
	// violations; actual instruction usage needs empirical confirmation.
	ISAAdvisory
)

func (p ISAPolicy) String() string {
	switch p {
	case ISAAuthoritative:
		return "authoritative"
	case ISAAdvisory:
		return "advisory"
	default:
		return fmt.Sprintf("ISAPolicy(%d)", int(p))
	}
}

// Set implements [flag.Value].
func (p *ISAPolicy) Set(s string) error {
	switch s {
	case "authoritative":
		*p = ISAAuthoritative
	case "advisory":
		*p = ISAAdvisory
	default:
		return fmt.Errorf("%w: ISA policy %q", ErrKindUnknown, s)
	}

	return nil
}

// Policy parameterizes verification.
type Policy struct {
	// GuestArch is the foreign architecture the guest emulates. Machine code
	// in dependency layers must match it.
	GuestArch sys.Arch

	// SupportedISA are the instruction set feature tags the emulator
	// supports.
	SupportedISA []string

	// ISAPolicy decides whether unsupported declared features block.
	ISAPolicy ISAPolicy
}

// View is the merged result of composing and verifying a layer set.
type View struct {
	// Owner maps each provided path to the identifier of the owning layer.
	Owner map[string]string

	// Violations is the complete, deterministically ordered violation list.
	Violations []Violation
}

// HasBlocking reports whether the view contains a violation that halts the
// pipeline under the given policy.
func (v *View) HasBlocking(policy ISAPolicy) bool {
	for _, violation := range v.Violations {
		if violation.Kind.blocking(policy) {
			return true
		}
	}

	return false
}

// Blocking returns the violations that halt the pipeline under the policy.
func (v *View) Blocking(policy ISAPolicy) []Violation {
	var blocking []Violation

	for _, violation := range v.Violations {
		if violation.Kind.blocking(policy) {
			blocking = append(blocking, violation)
		}
	}

	return blocking
}

// Verify composes the layer set into a merged view and checks all
// invariants: layer ownership and the reserved set, architecture of machine
// code in dependency layers, and the entry binary's load-time requirements.
//
// Verify is a pure function of its inputs. Running it twice on identical
// inputs yields an identical violation list.
func Verify(set Set, req sys.Requirements, policy Policy) (View, error) {
	view, err := compose(set)
	if err != nil {
		return view, err
	}

	archViolations, err := scanArchitecture(set, policy.GuestArch)
	if err != nil {
		return view, err
	}

	view.Violations = append(view.Violations, archViolations...)
	view.Violations = append(view.Violations, checkRequirements(&view, req, policy)...)

	sortViolations(view.Violations)

	return view, nil
}

// compose iterates the layers in precedence order and creates the merged
// path ownership mapping, emitting a violation for every path a layer is
// not permitted to provide.
func compose(set Set) (View, error) {
	view := View{Owner: make(map[string]string)}

	for _, layer := range set.ordered() {
		paths, err := layer.paths()
		if err != nil {
			return view, err
		}

		for _, providedPath := range paths {
			violation, ok := claim(&view, set, layer, providedPath)
			if ok {
				view.Violations = append(view.Violations, violation)
			}
		}
	}

	return view, nil
}

// claim records layer as owner of the path, or returns the violation the
// claim causes. The first (highest-precedence) provider keeps ownership
// either way.
func claim(view *View, set Set, layer Layer, providedPath string) (Violation, bool) {
	owner, alreadyOwned := view.Owner[providedPath]
	if !alreadyOwned {
		view.Owner[providedPath] = layer.ID
	}

	// Base-refresh layers deliberately replace parts of the base runtime, so
	// their claims never violate.
	if layer.Role == RoleBaseRefresh {
		return Violation{}, false
	}

	// The reserved set is owned by the base runtime even when its staging
	// tree does not list the path, so a dependency layer claiming it is
	// rejected regardless of position.
	if !layer.Role.mayOwnReserved() && underExecDirs(providedPath) {
		return Violation{
			Kind:  ViolationReservedExecutablePath,
			Path:  providedPath,
			Layer: layer.ID,
		}, true
	}

	if _, reserved := reservedABIPaths[providedPath]; reserved &&
		!layer.Role.mayOwnReserved() {
		return Violation{
			Kind:  ViolationABIBoundaryOverride,
			Path:  providedPath,
			Layer: layer.ID,
		}, true
	}

	if !alreadyOwned || owner == layer.ID {
		return Violation{}, false
	}

	if layer.additive(providedPath) || layerAdditive(set, owner, providedPath) {
		return Violation{}, false
	}

	kind := ViolationABIBoundaryOverride
	if underExecDirs(providedPath) {
		kind = ViolationReservedExecutablePath
	}

	return Violation{Kind: kind, Path: providedPath, Layer: layer.ID}, true
}

func layerAdditive(set Set, layerID, providedPath string) bool {
	for _, layer := range set.layers {
		if layer.ID == layerID {
			return layer.additive(providedPath)
		}
	}

	return false
}

func underExecDirs(providedPath string) bool {
	for _, dir := range reservedExecDirs {
		if strings.HasPrefix(providedPath, dir+"/") {
			return true
		}
	}

	return false
}

// scanArchitecture walks the load-bearing subtrees of every dependency layer
// and reports machine code built for the wrong architecture. A small
// explicit allowlist covers ELF objects the guest never loads.
func scanArchitecture(set Set, guestArch sys.Arch) ([]Violation, error) {
	var violations []Violation

	for _, layer := range set.layers {
		if layer.Role != RoleDependency || layer.Root == "" {
			continue
		}

		for _, dir := range loadBearingDirs {
			root := filepath.Join(layer.Root, dir)

			err := filepath.WalkDir(root, func(
				filePath string,
				entry fs.DirEntry,
				err error,
			) error {
				if err != nil {
					if filePath == root {
						return fs.SkipDir
					}

					return err
				}

				if !entry.Type().IsRegular() {
					return nil
				}

				rel, err := filepath.Rel(layer.Root, filePath)
				if err != nil {
					return err
				}

				rel = filepath.ToSlash(rel)

				if allowlisted(rel) {
					return nil
				}

				machine, isELF, err := sys.ReadELFMachine(filePath)
				if err != nil {
					return err
				}

				if isELF && machine != guestArch.ELFMachine() {
					violations = append(violations, Violation{
						Kind:  ViolationArchMismatch,
						Path:  "/" + rel,
						Layer: layer.ID,
					})
				}

				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("scan layer %s: %w", layer.ID, err)
			}
		}
	}

	return violations, nil
}

func allowlisted(rel string) bool {
	for _, prefix := range archScanAllowlist {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}

	return false
}

// checkRequirements cross-checks the entry binary's load-time contract
// against the merged view.
func checkRequirements(view *View, req sys.Requirements, policy Policy) []Violation {
	var violations []Violation

	if req.Interpreter != "" {
		if _, resolved := view.Owner[req.Interpreter]; !resolved {
			violations = append(violations, Violation{
				Kind: ViolationUnmetInterpreter,
				Path: req.Interpreter,
			})
		}
	}

	if len(req.Needed) > 0 {
		available := libraryNames(view)

		for _, name := range req.Needed {
			if _, resolved := available[name]; !resolved {
				violations = append(violations, Violation{
					Kind: ViolationUnmetDependency,
					Path: name,
				})
			}
		}
	}

	for _, feature := range req.ISAFeatures {
		if !slices.Contains(policy.SupportedISA, feature) {
			violations = append(violations, Violation{
				Kind: ViolationUnsupportedISAFeature,
				Path: feature,
			})
		}
	}

	return violations
}

// libraryNames collects the base names of all merged paths under the
// conventional library directories.
func libraryNames(view *View) map[string]struct{} {
	names := make(map[string]struct{})

	for ownedPath := range view.Owner {
		for _, dir := range libraryDirs {
			if strings.HasPrefix(ownedPath, dir+"/") {
				names[path.Base(ownedPath)] = struct{}{}
				break
			}
		}
	}

	return names
}
