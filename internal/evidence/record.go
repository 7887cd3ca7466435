// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package evidence renders the per-invocation report. Exactly one record is
// produced per invocation attempt, whether the guest ran, was blocked or the
// attempt failed early.
package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/emurun/emurun/internal/bundle"
	"github.com/emurun/emurun/internal/guest"
	"github.com/emurun/emurun/internal/overlay"
	"github.com/emurun/emurun/internal/sys"
)

// LayerRecord summarizes one composed overlay layer.
type LayerRecord struct {
	ID    string       `json:"id"`
	Role  overlay.Role `json:"role"`
	Image string       `json:"image,omitempty"`
}

// ExecutionRecord summarizes a guest runtime invocation. It is absent from
// the record when execution never started.
type ExecutionRecord struct {
	ExitCode      int                   `json:"exitCode"`
	Signal        string                `json:"signal,omitempty"`
	GuestExitCode *int                  `json:"guestExitCode,omitempty"`
	GuestSignal   *int                  `json:"guestSignal,omitempty"`
	TimedOut      bool                  `json:"timedOut,omitempty"`
	Termination   guest.TerminationPath `json:"termination"`
	ElapsedMillis int64                 `json:"elapsedMillis"`
}

// NewExecutionRecord converts a guest result.
func NewExecutionRecord(result guest.Result) *ExecutionRecord {
	return &ExecutionRecord{
		ExitCode:      result.ExitCode,
		Signal:        result.Signal,
		GuestExitCode: result.GuestExitCode,
		GuestSignal:   result.GuestSignal,
		TimedOut:      result.TimedOut,
		Termination:   result.Termination,
		ElapsedMillis: result.Elapsed.Milliseconds(),
	}
}

// Record is the complete evidence for one invocation attempt. Fields are
// filled as far as the attempt got.
type Record struct {
	Bundle       string                   `json:"bundle"`
	Payload      *bundle.ValidatedPayload `json:"payload,omitempty"`
	Identity     string                   `json:"identity,omitempty"`
	Backend      string                   `json:"backend,omitempty"`
	EntryPoint   *bundle.EntryPoint       `json:"entryPoint,omitempty"`
	Requirements *sys.Requirements        `json:"requirements,omitempty"`
	Layers       []LayerRecord            `json:"layers,omitempty"`
	Violations   []overlay.Violation      `json:"violations,omitempty"`
	Execution    *ExecutionRecord         `json:"execution,omitempty"`
	Artifacts    []string                 `json:"artifacts,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// SetLayers fills the layer summary from a composed set.
func (r *Record) SetLayers(set *overlay.Set) {
	r.Layers = r.Layers[:0]
	for _, layer := range set.Layers() {
		r.Layers = append(r.Layers, LayerRecord{
			ID:    layer.ID,
			Role:  layer.Role,
			Image: layer.Image,
		})
	}
}

// Encode writes the record as indented JSON. Key order is fixed by the
// struct layout, so output is deterministic for identical records.
func (r *Record) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return nil
}

// Write stores the record at the given path.
func (r *Record) Write(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	defer file.Close()

	if err := r.Encode(file); err != nil {
		return err
	}

	return file.Close()
}
