// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"debug/elf"
	"runtime"
)

// Arch is a CPU architecture a binary may be built for.
type Arch string

// Supported guest architectures.
const (
	AMD64 Arch = "amd64"
	ARM64 Arch = "arm64"
)

// Native is the architecture of the host. A bundle built for any other
// architecture requires CPU emulation in the guest.
const Native Arch = Arch(runtime.GOARCH)

func (a Arch) String() string {
	return string(a)
}

// IsNative reports whether the architecture matches the host.
func (a Arch) IsNative() bool {
	return a == Native
}

// ELFMachine returns the ELF machine type binaries of this architecture
// carry in their file header.
func (a Arch) ELFMachine() elf.Machine {
	switch a {
	case AMD64:
		return elf.EM_X86_64
	case ARM64:
		return elf.EM_AARCH64
	default:
		return elf.EM_NONE
	}
}

// Set implements [flag.Value].
func (a *Arch) Set(s string) error {
	switch Arch(s) {
	case AMD64, ARM64:
		*a = Arch(s)
	default:
		return ErrArchNotSupported
	}

	return nil
}
