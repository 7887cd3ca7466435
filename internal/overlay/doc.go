// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package overlay composes filesystem layers into one logical guest view and
// verifies a fixed set of safety invariants against it.
//
// The verifier is a pure function of the layer set, the entry binary's
// requirements and the policy: identical inputs yield an identical violation
// list. A non-empty list of blocking violations is authoritative and stops
// the pipeline before any guest execution.
package overlay
