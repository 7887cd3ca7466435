// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"flag"
	"fmt"
)

// ErrHelp is returned when help or version output was requested.
var ErrHelp = flag.ErrHelp

var (
	ErrReadBuildInfo  = errors.New("failed to read build info")
	ErrEmptyFilePath  = errors.New("file path must not be empty")
	ErrEmptyLayerID   = errors.New("layer id must not be empty")
	ErrEmptyLayerRoot = errors.New("layer root must not be empty")
	ErrNotRegularFile = errors.New("not a regular file")
)

// ParseArgsError wraps errors that occur during argument parsing.
type ParseArgsError struct {
	err error
	msg string
}

func (e *ParseArgsError) Error() string {
	if e.err == nil {
		return e.msg
	}

	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *ParseArgsError) Is(other error) bool {
	_, ok := other.(*ParseArgsError)
	return ok
}

func (e *ParseArgsError) Unwrap() error {
	return e.err
}
