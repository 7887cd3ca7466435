// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bundle inspects self-extracting application bundles.
//
// A bundle is an opaque binary blob with a compressed, read-only filesystem
// image appended at some unknown offset. The package locates and validates
// that embedded payload, resolves the launch entry point of an extracted
// bundle tree and optionally strips instruction set property notes that the
// CPU emulator rejects.
package bundle
