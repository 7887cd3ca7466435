// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package extract

import "strings"

// BackendError wraps an extraction backend failure together with the
// backend's own diagnostic output.
type BackendError struct {
	Backend    string
	Err        error
	Diagnostic string
}

// Error implements the [error] interface.
func (e *BackendError) Error() string {
	msg := e.Backend + ": " + e.Err.Error()

	if diagnostic := strings.TrimSpace(e.Diagnostic); diagnostic != "" {
		msg += ": " + diagnostic
	}

	return msg
}

// Is implements the [errors.Is] interface.
func (*BackendError) Is(other error) bool {
	_, ok := other.(*BackendError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *BackendError) Unwrap() error {
	return e.Err
}
