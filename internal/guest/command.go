// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package guest launches the external guest virtualization runtime and
// supervises its lifetime.
//
// The runtime only emits its final diagnostic line naming the guest's exit
// status when it believes it is talking to a terminal, so the child is
// attached to a pseudo terminal rather than plain pipes. A runaway guest is
// an expected condition: the supervisor never blocks indefinitely and
// escalates termination when the configured lifetime is exceeded.
package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	defaultGracePeriod = 5 * time.Second

	// drainTimeout bounds the wait for the console drain after the child
	// terminated, in case a leftover process still holds the slave open.
	drainTimeout = 3 * time.Second
)

// CommandSpec describes one guest runtime invocation.
type CommandSpec struct {
	// Executable is the guest virtualization runtime to spawn.
	Executable string

	// EmulationMode selects the CPU emulation inside the runtime.
	EmulationMode string

	// RuntimeArgs are passed through to the runtime before the emulation
	// flag. The runtime is order sensitive for some of them.
	RuntimeArgs []string

	// Images are the overlay filesystem image references, base-runtime
	// first.
	Images []string

	// Env are KEY=VALUE pairs injected into the guest environment.
	Env []string

	// Prelude is an optional shell snippet run inside the guest before the
	// entry command.
	Prelude string

	// Argv is the command line executed inside the guest.
	Argv []string

	// Lifetime bounds the runtime's wall time. Zero means unbounded.
	Lifetime time.Duration

	// GracePeriod is the wait between the graceful termination signal and
	// the forced kill.
	GracePeriod time.Duration

	// OutputPath is the file combined guest output is captured into.
	OutputPath string
}

// Arguments compiles the runtime command line.
func (s *CommandSpec) Arguments() []string {
	args := append([]string(nil), s.RuntimeArgs...)

	args = append(args, "--emu="+s.EmulationMode)

	for _, image := range s.Images {
		args = append(args, "--fex-image", image)
	}

	for _, env := range s.Env {
		args = append(args, "-e", env)
	}

	args = append(args, "--")

	if s.Prelude != "" {
		// Wrap the entry command so the prelude runs first and the entry
		// still becomes the shell's own process.
		args = append(args,
			"/bin/bash", "-lc",
			"set -euo pipefail\n"+s.Prelude+"\nexec \"$@\"",
			"bash",
		)
	}

	return append(args, s.Argv...)
}

// TerminationPath records how far the lifetime escalation went.
type TerminationPath int

const (
	// TerminationNone means the runtime ended on its own.
	TerminationNone TerminationPath = iota

	// TerminationTerm means the graceful termination signal sufficed.
	TerminationTerm

	// TerminationKill means the runtime had to be force-killed.
	TerminationKill
)

func (p TerminationPath) String() string {
	switch p {
	case TerminationNone:
		return "none"
	case TerminationTerm:
		return "term"
	case TerminationKill:
		return "kill"
	default:
		return fmt.Sprintf("TerminationPath(%d)", int(p))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (p TerminationPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (p *TerminationPath) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*p = TerminationNone
	case "term":
		*p = TerminationTerm
	case "kill":
		*p = TerminationKill
	default:
		return fmt.Errorf("unknown termination path: %q", text)
	}

	return nil
}

// Result is produced exactly once per invocation attempt, even when the
// runtime is forcibly terminated.
type Result struct {
	// ExitCode is the runtime's exit code. Negative if it was signaled.
	ExitCode int

	// Signal names the signal that ended the runtime, if any.
	Signal string

	// GuestExitCode is the guest process's own exit status, parsed from the
	// runtime's diagnostic line. Nil if no diagnostic was observed.
	GuestExitCode *int

	// GuestSignal is the signal that terminated the guest process, per the
	// runtime's diagnostic line.
	GuestSignal *int

	// TimedOut is set when the lifetime bound was enforced.
	TimedOut bool

	// Termination records the escalation path taken.
	Termination TerminationPath

	// Elapsed is the runtime's wall time.
	Elapsed time.Duration

	// OutputPath is the combined output capture file.
	OutputPath string
}

// Run launches the guest runtime attached to a pseudo terminal and
// supervises it until it terminates.
//
// The result is only finalized once the child has fully terminated; it is
// returned even when the lifetime bound was enforced. An error is only
// returned for host-side failures that prevented or corrupted supervision.
func Run(ctx context.Context, spec CommandSpec) (Result, error) {
	result := Result{OutputPath: spec.OutputPath}

	output, err := os.Create(spec.OutputPath)
	if err != nil {
		return result, fmt.Errorf("create output capture: %w", err)
	}
	defer output.Close()

	cmd := exec.Command(spec.Executable, spec.Arguments()...)

	started := time.Now()

	// pty.Start puts the child into its own session with the slave side as
	// controlling terminal.
	master, err := pty.Start(cmd)
	if err != nil {
		return result, fmt.Errorf("start %s: %w", spec.Executable, err)
	}

	parser := &diagnosticParser{}

	var readers errgroup.Group

	readers.Go(func() error {
		return drainConsole(master, output, parser)
	})

	waitCh := make(chan error, 1)

	go func() {
		waitCh <- cmd.Wait()
	}()

	waitErr := supervise(ctx, spec, cmd.Process.Pid, waitCh, &result)

	result.Elapsed = time.Since(started)

	// The master keeps delivering kernel-buffered output until every slave
	// descriptor is closed and the read reports EIO, so the drain must
	// finish before the master is closed. A straggler still holding the
	// slave open is cut off by closing the master under the pending read.
	drained := make(chan error, 1)

	go func() {
		drained <- readers.Wait()
	}()

	drainTimer := time.NewTimer(drainTimeout)
	defer drainTimer.Stop()

	var readErr error

	select {
	case readErr = <-drained:
		_ = master.Close()
	case <-drainTimer.C:
		_ = master.Close()
		readErr = <-drained
	}

	parser.fill(&result)
	fillProcessState(cmd, waitErr, &result)

	return result, readErr
}

// supervise waits for the child to end, enforcing the lifetime bound with a
// terminate-then-kill escalation. It never blocks indefinitely.
func supervise(
	ctx context.Context,
	spec CommandSpec,
	pid int,
	waitCh <-chan error,
	result *Result,
) error {
	var deadline <-chan time.Time

	if spec.Lifetime > 0 {
		timer := time.NewTimer(spec.Lifetime)
		defer timer.Stop()

		deadline = timer.C
	}

	select {
	case err := <-waitCh:
		return err
	case <-deadline:
		result.TimedOut = true
	case <-ctx.Done():
	}

	// Graceful termination of the whole process group first.
	result.Termination = TerminationTerm
	_ = unix.Kill(-pid, unix.SIGTERM)

	grace := spec.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-graceTimer.C:
	}

	result.Termination = TerminationKill
	_ = unix.Kill(-pid, unix.SIGKILL)

	return <-waitCh
}

// drainConsole streams the pseudo terminal output into the capture file and
// feeds the diagnostic parser line by line.
func drainConsole(master io.Reader, output io.Writer, parser *diagnosticParser) error {
	buf := make([]byte, 8192)

	for {
		n, err := master.Read(buf)
		if n > 0 {
			if _, writeErr := output.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write output capture: %w", writeErr)
			}

			parser.feed(buf[:n])
		}

		if err != nil {
			// The master side reports EIO when the child closed the slave.
			// ErrClosed happens when the supervisor closed the master while
			// the read was pending.
			if errors.Is(err, io.EOF) ||
				errors.Is(err, syscall.EIO) ||
				errors.Is(err, fs.ErrClosed) {
				return nil
			}

			return fmt.Errorf("read console: %w", err)
		}
	}
}

func fillProcessState(cmd *exec.Cmd, waitErr error, result *Result) {
	state := cmd.ProcessState
	if state == nil {
		result.ExitCode = -1
		return
	}

	result.ExitCode = state.ExitCode()

	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		result.Signal = status.Signal().String()
	}

	// A non-zero exit after enforced termination is expected, not an error.
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		result.ExitCode = -1
	}
}
