// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package emurun

import (
	"fmt"
	"strings"

	"github.com/emurun/emurun/internal/overlay"
)

// PolicyError is returned when verification found blocking violations and
// guest execution was refused.
type PolicyError struct {
	Violations []overlay.Violation
}

// Error implements the [error] interface.
func (e *PolicyError) Error() string {
	lines := make([]string, len(e.Violations))
	for idx, violation := range e.Violations {
		lines[idx] = violation.String()
	}

	return fmt.Sprintf(
		"execution blocked by %d violation(s): %s",
		len(e.Violations),
		strings.Join(lines, "; "),
	)
}

// Is implements the support for [errors.Is].
func (e *PolicyError) Is(other error) bool {
	_, ok := other.(*PolicyError)
	return ok
}
