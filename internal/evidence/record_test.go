// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package evidence_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emurun/emurun/internal/bundle"
	"github.com/emurun/emurun/internal/evidence"
	"github.com/emurun/emurun/internal/guest"
	"github.com/emurun/emurun/internal/overlay"
)

func sampleRecord() *evidence.Record {
	exitCode := 0

	return &evidence.Record{
		Bundle: "/bundles/app.AppImage",
		Payload: &bundle.ValidatedPayload{
			Offset:    188392,
			Major:     4,
			BlockSize: 131072,
		},
		Identity: "deadbeef",
		Backend:  "unsquashfs",
		EntryPoint: &bundle.EntryPoint{
			Script: "/run/app/AppRun",
			Kind:   bundle.EntryNative,
		},
		Layers: []evidence.LayerRecord{
			{ID: "base", Role: overlay.RoleBaseRuntime, Image: "/images/base.img"},
			{ID: "deps", Role: overlay.RoleDependency},
		},
		Execution: &evidence.ExecutionRecord{
			ExitCode:      0,
			GuestExitCode: &exitCode,
			Termination:   guest.TerminationNone,
			ElapsedMillis: 1500,
		},
	}
}

func TestRecordEncodeDeterministic(t *testing.T) {
	var first, second bytes.Buffer

	require.NoError(t, sampleRecord().Encode(&first))
	require.NoError(t, sampleRecord().Encode(&second))

	assert.Equal(t, first.String(), second.String())
	assert.True(t, bytes.HasSuffix(first.Bytes(), []byte("\n")))
}

func TestRecordEncodeFields(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, sampleRecord().Encode(&buf))

	encoded := buf.String()
	assert.Contains(t, encoded, `"bundle": "/bundles/app.AppImage"`)
	assert.Contains(t, encoded, `"offset": 188392`)
	assert.Contains(t, encoded, `"role": "base-runtime"`)
	assert.Contains(t, encoded, `"termination": "none"`)
	assert.NotContains(t, encoded, `"error"`)
	assert.NotContains(t, encoded, `"violations"`)
}

func TestRecordEncodeBlocked(t *testing.T) {
	record := sampleRecord()
	record.Execution = nil
	record.Violations = []overlay.Violation{
		{
			Kind:  overlay.ViolationABIBoundaryOverride,
			Path:  "/lib64/libc.so.6",
			Layer: "deps",
		},
	}

	var buf bytes.Buffer

	require.NoError(t, record.Encode(&buf))

	encoded := buf.String()
	assert.Contains(t, encoded, `"abi-boundary-override"`)
	assert.NotContains(t, encoded, `"execution"`)
}

func TestRecordWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")

	require.NoError(t, sampleRecord().Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"identity": "deadbeef"`)
}

func TestNewExecutionRecord(t *testing.T) {
	code := 3

	result := guest.Result{
		ExitCode:      0,
		GuestExitCode: &code,
		TimedOut:      true,
		Termination:   guest.TerminationKill,
		Elapsed:       2500 * time.Millisecond,
	}

	record := evidence.NewExecutionRecord(result)

	assert.Equal(t, 0, record.ExitCode)
	assert.Equal(t, 3, *record.GuestExitCode)
	assert.True(t, record.TimedOut)
	assert.Equal(t, guest.TerminationKill, record.Termination)
	assert.Equal(t, int64(2500), record.ElapsedMillis)
}

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()

	console := filepath.Join(dir, "console.log")
	require.NoError(t, os.WriteFile(console, []byte("guest output\n"), 0o644))

	missing := filepath.Join(dir, "missing.log")

	archivePath := filepath.Join(dir, "evidence.cpio")
	record := sampleRecord()
	record.Artifacts = []string{console, missing}

	err := evidence.WriteArchive(archivePath, record, record.Artifacts)
	require.NoError(t, err)

	file, err := os.Open(archivePath)
	require.NoError(t, err)
	defer file.Close()

	entries := make(map[string]string)
	reader := cpio.NewReader(file)

	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		data, err := io.ReadAll(reader)
		require.NoError(t, err)

		entries[hdr.Name] = string(data)
	}

	require.Contains(t, entries, "record.json")
	assert.Contains(t, entries["record.json"], `"bundle"`)

	require.Contains(t, entries, "console.log")
	assert.Equal(t, "guest output\n", entries["console.log"])

	assert.NotContains(t, entries, "missing.log")
}
