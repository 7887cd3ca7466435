// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package emurun wires the stages of a bundle invocation together: payload
// location, extraction, entry point resolution, requirement extraction,
// overlay verification and guest execution, ending in an evidence record.
package emurun

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/emurun/emurun/internal/bundle"
	"github.com/emurun/emurun/internal/evidence"
	"github.com/emurun/emurun/internal/extract"
	"github.com/emurun/emurun/internal/guest"
	"github.com/emurun/emurun/internal/overlay"
	"github.com/emurun/emurun/internal/sys"
)

const (
	defaultRuntime       = "muvm"
	defaultEmulationMode = "fex"
	consoleFileName      = "console.log"
	recordFileName       = "record.json"
	compatLayerID        = "loader-compat"
)

// Spec is a fully resolved invocation plan. The command layer builds it from
// flags; tests build it directly.
type Spec struct {
	// Bundle is the path of the application bundle blob.
	Bundle string

	// Args are passed to the bundle's entry point inside the guest.
	Args []string

	// Layers are the overlay layers to compose, base-runtime first.
	Layers []overlay.Layer

	// Policy configures the overlay verifier.
	Policy overlay.Policy

	// Backend extracts the located payload.
	Backend extract.Backend

	// Runtime is the guest virtualization runtime executable.
	Runtime string

	// RuntimeArgs are passed through to the runtime.
	RuntimeArgs []string

	// Env are extra KEY=VALUE pairs for the guest environment.
	Env []string

	// Prelude is an optional shell snippet run in the guest before the
	// entry point.
	Prelude string

	// Lifetime bounds guest wall time. Zero means unbounded.
	Lifetime time.Duration

	// GracePeriod is the terminate-to-kill escalation delay.
	GracePeriod time.Duration

	// StripISANotes rewrites guest-architecture binaries in the extracted
	// tree to drop their ISA property notes.
	StripISANotes bool

	// Objcopy overrides objcopy tool discovery for note stripping.
	Objcopy string

	// AutoCompat composes a loader redirect layer when the only blockers
	// are unmet interpreters with a relocated counterpart.
	AutoCompat bool

	// OutputDir receives the evidence record and captured guest output.
	OutputDir string
}

func (s *Spec) runtime() string {
	if s.Runtime == "" {
		return defaultRuntime
	}

	return s.Runtime
}

// RecordPath is where [Run] writes the evidence record for this spec.
func (s *Spec) RecordPath() string {
	return filepath.Join(s.OutputDir, recordFileName)
}

// Run executes the invocation pipeline for the given [Spec].
//
// It always returns a record describing how far the attempt got, alongside
// the error that stopped it, and writes the record into the configured
// output directory. A [*PolicyError] means verification refused execution; any
// other error is a host-side failure.
func Run(ctx context.Context, spec *Spec, cache *extract.Cache) (*evidence.Record, error) {
	record := &evidence.Record{Bundle: spec.Bundle}

	err := run(ctx, spec, cache, record)
	if err != nil {
		record.Error = err.Error()
	}

	if writeErr := record.Write(spec.RecordPath()); writeErr != nil {
		slog.Error("Failed to write evidence record",
			"path", spec.RecordPath(),
			"error", writeErr,
		)

		if err == nil {
			err = writeErr
		}
	}

	return record, err
}

func run(
	ctx context.Context,
	spec *Spec,
	cache *extract.Cache,
	record *evidence.Record,
) error {
	payload, err := bundle.LocatePayloadFile(spec.Bundle)
	if err != nil {
		return fmt.Errorf("locate payload: %w", err)
	}

	record.Payload = &payload

	slog.Debug("Located payload",
		"offset", payload.Offset,
		"blocksize", payload.BlockSize,
	)

	tree, err := cache.Extract(ctx, spec.Backend, spec.Bundle, payload)
	if err != nil {
		return fmt.Errorf("extract payload: %w", err)
	}

	record.Identity = tree.Identity
	record.Backend = tree.Backend

	entry, err := bundle.ResolveEntryPoint(tree.Root)
	if err != nil {
		return fmt.Errorf("resolve entry point: %w", err)
	}

	record.EntryPoint = &entry

	slog.Debug("Resolved entry point",
		"script", entry.Script,
		"kind", entry.Kind,
	)

	req, err := entryRequirements(entry, spec.Policy.GuestArch)
	if err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}

	record.Requirements = &req

	if spec.StripISANotes {
		if err := stripNotes(ctx, spec, tree.Root); err != nil {
			return err
		}
	}

	set, err := overlay.NewSet(spec.Layers...)
	if err != nil {
		return fmt.Errorf("compose overlay set: %w", err)
	}

	view, err := overlay.Verify(set, req, spec.Policy)
	if err != nil {
		return fmt.Errorf("verify overlay set: %w", err)
	}

	if spec.AutoCompat && view.HasBlocking(spec.Policy.ISAPolicy) {
		set, view, err = retryWithCompat(spec, set, view, req)
		if err != nil {
			return err
		}
	}

	record.SetLayers(&set)
	record.Violations = view.Violations

	if view.HasBlocking(spec.Policy.ISAPolicy) {
		return &PolicyError{Violations: view.Blocking(spec.Policy.ISAPolicy)}
	}

	consolePath := filepath.Join(spec.OutputDir, consoleFileName)

	result, err := guest.Run(ctx, guest.CommandSpec{
		Executable:    spec.runtime(),
		EmulationMode: defaultEmulationMode,
		RuntimeArgs:   spec.RuntimeArgs,
		Images:        set.ImageRefs(),
		Env:           append([]string{"APPDIR=" + tree.Root}, spec.Env...),
		Prelude:       spec.Prelude,
		Argv:          entry.Argv(spec.Args...),
		Lifetime:      spec.Lifetime,
		GracePeriod:   spec.GracePeriod,
		OutputPath:    consolePath,
	})

	record.Artifacts = append(record.Artifacts, consolePath)

	if err != nil {
		return fmt.Errorf("run guest: %w", err)
	}

	record.Execution = evidence.NewExecutionRecord(result)

	return nil
}

// entryRequirements extracts the ELF requirements of a native entry point.
// Interpreted entry points have none of their own; their interpreter is
// resolved against the composed view like any other dependency would be.
func entryRequirements(entry bundle.EntryPoint, arch sys.Arch) (sys.Requirements, error) {
	if entry.Kind != bundle.EntryNative {
		return sys.Requirements{}, nil
	}

	machine, isELF, err := sys.ReadELFMachine(entry.Script)
	if err != nil {
		return sys.Requirements{}, err
	}

	// A native entry point that is not a guest-architecture ELF has no
	// loader requirements worth checking.
	if !isELF || machine != arch.ELFMachine() {
		return sys.Requirements{}, nil
	}

	return sys.ReadRequirements(entry.Script, arch)
}

func stripNotes(ctx context.Context, spec *Spec, root string) error {
	objcopy, err := bundle.ResolveObjcopy(ctx, spec.Objcopy)
	if err != nil {
		return err
	}

	result, err := bundle.StripISAPropertyNotes(ctx, root, spec.Policy.GuestArch, objcopy)
	if err != nil {
		return fmt.Errorf("strip property notes: %w", err)
	}

	slog.Debug("Stripped ISA property notes",
		"stripped", len(result.Stripped),
		"failed", len(result.Failed),
	)

	return nil
}

// retryWithCompat appends a loader redirect layer and verifies again when
// every blocking violation is an unmet interpreter whose path has an owned
// counterpart under /usr. Any other blocker makes the retry pointless.
func retryWithCompat(
	spec *Spec,
	set overlay.Set,
	view overlay.View,
	req sys.Requirements,
) (overlay.Set, overlay.View, error) {
	var redirects []overlay.Layer

	for _, violation := range view.Blocking(spec.Policy.ISAPolicy) {
		if violation.Kind != overlay.ViolationUnmetInterpreter {
			return set, view, nil
		}

		target := "/usr" + violation.Path
		if _, owned := view.Owner[target]; !owned {
			return set, view, nil
		}

		layer, err := overlay.NewRedirectLayer(
			filepath.Join(spec.OutputDir, "compat"),
			compatLayerID+"-"+strings.ReplaceAll(
				strings.TrimPrefix(violation.Path, "/"), "/", "-",
			),
			violation.Path,
			target,
		)
		if err != nil {
			return set, view, fmt.Errorf("stage redirect layer: %w", err)
		}

		redirects = append(redirects, layer)
	}

	retried, err := set.Append(redirects...)
	if err != nil {
		return set, view, fmt.Errorf("append redirect layer: %w", err)
	}

	slog.Debug("Retrying verification with loader redirect",
		"layers", len(redirects),
	)

	retriedView, err := overlay.Verify(retried, req, spec.Policy)
	if err != nil {
		return set, view, fmt.Errorf("verify overlay set: %w", err)
	}

	return retried, retriedView, nil
}
