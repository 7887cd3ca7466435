// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import "errors"

var (
	// ErrNotELFFile is returned if the file does not have an ELF magic
	// number.
	ErrNotELFFile = errors.New("is not an ELF file")

	// ErrOSABINotSupported is returned if the OS ABI of an ELF file is not
	// supported.
	ErrOSABINotSupported = errors.New("OSABI not supported")

	// ErrMachineNotSupported is returned if the machine type of an ELF file
	// is not supported.
	ErrMachineNotSupported = errors.New("machine type not supported")

	// ErrClassNotSupported is returned if an ELF file is not 64 bit.
	ErrClassNotSupported = errors.New("ELF class not supported")

	// ErrArchNotSupported is returned if the requested architecture is not
	// supported for the requested operation.
	ErrArchNotSupported = errors.New("architecture not supported")

	// ErrStrTabNotFound is returned if the dynamic string table of an ELF
	// file cannot be located in any loadable segment.
	ErrStrTabNotFound = errors.New("dynamic string table not found")
)
