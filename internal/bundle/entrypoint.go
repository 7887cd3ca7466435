// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// launchScriptName is the conventional launch target at the root of an
// extracted bundle tree.
const launchScriptName = "AppRun"

// EntryKind classifies how a bundle's launch target must be invoked in the
// guest.
type EntryKind int

const (
	// EntryNative is a foreign-architecture ELF executable that the guest
	// runs directly.
	EntryNative EntryKind = iota

	// EntryInterpreted is a script; the guest must invoke its interpreter
	// with the script as argument instead of executing the script itself.
	EntryInterpreted
)

func (k EntryKind) String() string {
	switch k {
	case EntryNative:
		return "native"
	case EntryInterpreted:
		return "interpreted"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *EntryKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "native":
		*k = EntryNative
	case "interpreted":
		*k = EntryInterpreted
	default:
		return fmt.Errorf("unknown entry kind: %s", text)
	}

	return nil
}

// EntryPoint is the resolved launch target of an extracted bundle. It is
// derived once and immutable thereafter.
type EntryPoint struct {
	// Script is the path to the launch script inside the extracted tree.
	Script string `json:"script"`

	// Interpreter is the interpreter program declared by the script. Empty
	// for native entry points.
	Interpreter string `json:"interpreter,omitempty"`

	// InterpreterArg is the single optional inline argument of the
	// interpreter directive.
	InterpreterArg string `json:"interpreterArg,omitempty"`

	// Kind classifies the entry point.
	Kind EntryKind `json:"kind"`
}

// Argv returns the command line that executes the entry point in the guest,
// with extra appended as bundle arguments.
func (e *EntryPoint) Argv(extra ...string) []string {
	var argv []string

	if e.Kind == EntryInterpreted {
		argv = append(argv, e.Interpreter)
		if e.InterpreterArg != "" {
			argv = append(argv, e.InterpreterArg)
		}
	}

	argv = append(argv, e.Script)

	return append(argv, extra...)
}

// ResolveEntryPoint locates the conventional launch script in the extracted
// bundle tree rooted at root and classifies it.
//
// A missing launch script is a hard error. Guessing an alternate entry point
// is out of scope.
func ResolveEntryPoint(root string) (EntryPoint, error) {
	script := filepath.Join(root, launchScriptName)

	file, err := os.Open(script)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", ErrNoLaunchScript, script)
		}

		return EntryPoint{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return EntryPoint{}, fmt.Errorf("stat launch script: %w", err)
	}

	if !info.Mode().IsRegular() {
		return EntryPoint{}, fmt.Errorf(
			"%w: %s is not a regular file", fs.ErrInvalid, script,
		)
	}

	firstLine, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && len(firstLine) == 0 {
		return EntryPoint{}, fmt.Errorf("read launch script: %w", err)
	}

	if !bytes.HasPrefix(firstLine, []byte("#!")) {
		return EntryPoint{
			Script: script,
			Kind:   EntryNative,
		}, nil
	}

	interpreter, arg, err := parseShebang(firstLine)
	if err != nil {
		return EntryPoint{}, err
	}

	return EntryPoint{
		Script:         script,
		Interpreter:    interpreter,
		InterpreterArg: arg,
		Kind:           EntryInterpreted,
	}, nil
}

// parseShebang splits an interpreter directive into the interpreter path
// and at most one inline argument, the same way the kernel does.
func parseShebang(line []byte) (string, string, error) {
	fields := strings.Fields(strings.TrimSpace(string(line[2:])))
	if len(fields) == 0 {
		return "", "", ErrEmptyShebang
	}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	return fields[0], arg, nil
}
