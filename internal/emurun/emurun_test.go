// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package emurun_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emurun/emurun/internal/bundle"
	"github.com/emurun/emurun/internal/emurun"
	"github.com/emurun/emurun/internal/evidence"
	"github.com/emurun/emurun/internal/extract"
	"github.com/emurun/emurun/internal/guest"
	"github.com/emurun/emurun/internal/overlay"
	"github.com/emurun/emurun/internal/sys"
)

// treeBackend plants a fixed extracted tree instead of unpacking anything.
type treeBackend struct {
	files map[string]string
}

func (treeBackend) Name() string { return "fake" }

func (b treeBackend) Extract(
	_ context.Context, _ string, _ bundle.ValidatedPayload, dest string,
) error {
	for name, content := range b.files {
		path := filepath.Join(dest, name)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			return err
		}
	}

	return nil
}

// writeBundle writes a blob with a valid payload header at offset 128.
func writeBundle(t *testing.T) string {
	t.Helper()

	blob := make([]byte, 128+96)
	copy(blob[:4], "fake")
	copy(blob[128:], "hsqs")
	binary.LittleEndian.PutUint32(blob[128+12:], 131072)
	binary.LittleEndian.PutUint16(blob[128+28:], 4)

	path := filepath.Join(t.TempDir(), "app.AppImage")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	return path
}

// writeRuntime plants a fake guest runtime that reports guest success.
func writeRuntime(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "muvm")
	script := "#!/bin/sh\necho 'process exited with status code: 0'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func baseLayer(t *testing.T, paths ...string) overlay.Layer {
	t.Helper()

	root := t.TempDir()
	for _, p := range paths {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}

	return overlay.Layer{
		ID:    "base",
		Root:  root,
		Image: "/images/base.img",
		Role:  overlay.RoleBaseRuntime,
	}
}

func testSpec(t *testing.T, layers ...overlay.Layer) *emurun.Spec {
	t.Helper()

	return &emurun.Spec{
		Bundle: writeBundle(t),
		Layers: layers,
		Policy: overlay.Policy{GuestArch: sys.AMD64},
		Backend: treeBackend{files: map[string]string{
			"AppRun": "#!/bin/sh\ntrue\n",
		}},
		Runtime:   writeRuntime(t),
		OutputDir: t.TempDir(),
	}
}

func readRecord(t *testing.T, spec *emurun.Spec) evidence.Record {
	t.Helper()

	data, err := os.ReadFile(spec.RecordPath())
	require.NoError(t, err)

	var record evidence.Record
	require.NoError(t, json.Unmarshal(data, &record))

	return record
}

func TestRunSuccess(t *testing.T) {
	spec := testSpec(t, baseLayer(t, "usr/bin/bash"))
	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.NoError(t, err)

	require.NotNil(t, record.Payload)
	assert.Equal(t, uint64(128), record.Payload.Offset)
	assert.NotEmpty(t, record.Identity)
	assert.Equal(t, "fake", record.Backend)

	require.NotNil(t, record.EntryPoint)
	assert.Equal(t, bundle.EntryInterpreted, record.EntryPoint.Kind)

	require.NotNil(t, record.Execution)
	require.NotNil(t, record.Execution.GuestExitCode)
	assert.Equal(t, 0, *record.Execution.GuestExitCode)
	assert.Empty(t, record.Violations)

	written := readRecord(t, spec)
	assert.Equal(t, record.Identity, written.Identity)
	require.NotNil(t, written.Execution)
}

func TestRunBlockedByViolation(t *testing.T) {
	depRoot := t.TempDir()
	loader := filepath.Join(depRoot, "lib64/ld-linux-x86-64.so.2")
	require.NoError(t, os.MkdirAll(filepath.Dir(loader), 0o755))
	require.NoError(t, os.WriteFile(loader, []byte("x"), 0o644))

	spec := testSpec(t,
		baseLayer(t, "usr/bin/bash"),
		overlay.Layer{
			ID:   "deps",
			Root: depRoot,
			Role: overlay.RoleDependency,
		},
	)

	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.Error(t, err)

	var policyErr *emurun.PolicyError
	require.ErrorAs(t, err, &policyErr)

	assert.Nil(t, record.Execution)
	require.NotEmpty(t, record.Violations)
	assert.Equal(
		t,
		overlay.ViolationABIBoundaryOverride,
		record.Violations[0].Kind,
	)

	written := readRecord(t, spec)
	assert.Nil(t, written.Execution)
	assert.NotEmpty(t, written.Error)
}

func TestRunInvalidBundle(t *testing.T) {
	spec := testSpec(t, baseLayer(t, "usr/bin/bash"))

	bogus := filepath.Join(t.TempDir(), "bogus.AppImage")
	require.NoError(t, os.WriteFile(bogus, []byte("no payload here"), 0o644))
	spec.Bundle = bogus

	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.ErrorIs(t, err, bundle.ErrNoPayload)

	assert.Nil(t, record.Payload)
	assert.NotEmpty(t, record.Error)

	written := readRecord(t, spec)
	assert.NotEmpty(t, written.Error)
}

func TestRunMissingLaunchScript(t *testing.T) {
	spec := testSpec(t, baseLayer(t, "usr/bin/bash"))
	spec.Backend = treeBackend{files: map[string]string{
		"README": "nothing to launch",
	}}

	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.ErrorIs(t, err, bundle.ErrNoLaunchScript)

	assert.NotEmpty(t, record.Identity)
	assert.Nil(t, record.EntryPoint)
}

func TestRunLifetimeRecordsTimeout(t *testing.T) {
	runtimePath := filepath.Join(t.TempDir(), "muvm")
	script := "#!/bin/sh\nsleep 30\n"
	require.NoError(t, os.WriteFile(runtimePath, []byte(script), 0o755))

	spec := testSpec(t, baseLayer(t, "usr/bin/bash"))
	spec.Runtime = runtimePath
	spec.Lifetime = 100 * time.Millisecond
	spec.GracePeriod = 5 * time.Second

	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.NoError(t, err)

	require.NotNil(t, record.Execution)
	assert.True(t, record.Execution.TimedOut)
	assert.Equal(t, guest.TerminationTerm, record.Execution.Termination)
	assert.Nil(t, record.Execution.GuestExitCode)

	written := readRecord(t, spec)
	require.NotNil(t, written.Execution)
	assert.True(t, written.Execution.TimedOut)
	assert.Equal(t, guest.TerminationTerm, written.Execution.Termination)
}

func TestRunGuestArgs(t *testing.T) {
	// The fake runtime echoes its arguments, so the captured console shows
	// the full composed command line.
	runtimePath := filepath.Join(t.TempDir(), "muvm")
	script := "#!/bin/sh\necho \"$@\"\necho 'process exited with status code: 0'\n"
	require.NoError(t, os.WriteFile(runtimePath, []byte(script), 0o755))

	spec := testSpec(t, baseLayer(t, "usr/bin/bash"))
	spec.Runtime = runtimePath
	spec.Args = []string{"--flag", "value"}
	spec.Env = []string{"LANG=C"}

	cache := extract.NewCache(t.TempDir())

	record, err := emurun.Run(context.Background(), spec, cache)
	require.NoError(t, err)
	require.NotEmpty(t, record.Artifacts)

	console, err := os.ReadFile(record.Artifacts[0])
	require.NoError(t, err)

	output := string(console)
	assert.Contains(t, output, "--emu=fex")
	assert.Contains(t, output, "--fex-image /images/base.img")
	assert.Contains(t, output, "-e APPDIR=")
	assert.Contains(t, output, "-e LANG=C")
	assert.Contains(t, output, "--flag value")
}
