// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import (
	"bytes"
	"strconv"
)

// The runtime announces the guest process's fate on its console as one of
// these lines, mixed into the guest's own output. Only the last occurrence
// counts: wrapper shells may report for intermediate children first.
const (
	exitCodeNeedle = "process exited with status code:"
	signalNeedle   = "process terminated by signal:"
)

// diagnosticParser extracts the guest exit diagnostic from the console
// stream. It is fed raw chunks and splits them into lines itself, carrying
// partial lines across chunk boundaries.
type diagnosticParser struct {
	partial  []byte
	exitCode *int
	signal   *int
}

func (p *diagnosticParser) feed(chunk []byte) {
	p.partial = append(p.partial, chunk...)

	for {
		idx := bytes.IndexByte(p.partial, '\n')
		if idx < 0 {
			return
		}

		p.scanLine(p.partial[:idx])
		p.partial = p.partial[idx+1:]
	}
}

func (p *diagnosticParser) scanLine(line []byte) {
	// The pseudo terminal translates "\n" to "\r\n".
	line = bytes.TrimSuffix(line, []byte("\r"))

	if value, ok := parseNeedle(line, exitCodeNeedle); ok {
		p.exitCode = &value
		p.signal = nil

		return
	}

	if value, ok := parseNeedle(line, signalNeedle); ok {
		p.signal = &value
		p.exitCode = nil
	}
}

// fill finishes parsing and copies the diagnostic into the result. A final
// line without trailing newline is still considered.
func (p *diagnosticParser) fill(result *Result) {
	if len(p.partial) > 0 {
		p.scanLine(p.partial)
		p.partial = nil
	}

	result.GuestExitCode = p.exitCode
	result.GuestSignal = p.signal
}

func parseNeedle(line []byte, needle string) (int, bool) {
	idx := bytes.LastIndex(line, []byte(needle))
	if idx < 0 {
		return 0, false
	}

	rest := bytes.TrimSpace(line[idx+len(needle):])

	value, err := strconv.Atoi(string(rest))
	if err != nil {
		return 0, false
	}

	return value, true
}
