// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"
)

// Requirements is the load-time contract a dynamically linked binary
// declares: the program interpreter it must be loaded by, the shared library
// names it requires and the instruction set features it was built for.
//
// The feature tags are recorded as data only. Whether an unsupported tag is
// fatal is a policy decision made by the overlay verifier.
type Requirements struct {
	Interpreter string   `json:"interpreter,omitempty"`
	Needed      []string `json:"needed,omitempty"`
	ISAFeatures []string `json:"isaFeatures,omitempty"`
}

// ReadRequirements extracts the [Requirements] of the ELF file at the given
// path, validating the file header against the expected architecture first.
// The binary is never executed. Only the file and program headers are
// consulted, so the extraction works on stripped binaries as well.
func ReadRequirements(path string, arch Arch) (Requirements, error) {
	var req Requirements

	file, err := os.Open(path)
	if err != nil {
		return req, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	elfFile, err := elf.NewFile(file)
	if err != nil {
		return req, fmt.Errorf("%w: %w", ErrNotELFFile, err)
	}
	defer elfFile.Close()

	if elfFile.Class != elf.ELFCLASS64 {
		return req, fmt.Errorf("%w: %s", ErrClassNotSupported, elfFile.Class)
	}

	err = ValidateELF(elfFile.FileHeader, arch)
	if err != nil {
		return req, err
	}

	req.Interpreter, err = readInterpreter(elfFile)
	if err != nil {
		return req, fmt.Errorf("read interpreter: %w", err)
	}

	req.Needed, err = readNeeded(elfFile, file)
	if err != nil {
		return req, fmt.Errorf("read needed libraries: %w", err)
	}

	req.ISAFeatures, err = readISAFeatures(elfFile)
	if err != nil {
		return req, fmt.Errorf("read ISA feature notes: %w", err)
	}

	return req, nil
}

// ReadELFMachine peeks into the file at the given path and returns its ELF
// machine type. The second return value is false if the file is not an ELF
// file at all.
func ReadELFMachine(path string) (elf.Machine, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return elf.EM_NONE, false, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	// e_machine is at offset 18 for both ELF classes.
	var hdr [20]byte

	_, err = io.ReadFull(file, hdr[:])
	if err != nil {
		// Too small to be an ELF file.
		return elf.EM_NONE, false, nil
	}

	if !bytes.Equal(hdr[:4], []byte(elf.ELFMAG)) {
		return elf.EM_NONE, false, nil
	}

	var machine elf.Machine
	if elf.Data(hdr[5]) == elf.ELFDATA2MSB {
		machine = elf.Machine(binary.BigEndian.Uint16(hdr[18:20]))
	} else {
		machine = elf.Machine(binary.LittleEndian.Uint16(hdr[18:20]))
	}

	return machine, true, nil
}

// ValidateELF validates that ELF file header attributes match the requested
// architecture.
func ValidateELF(hdr elf.FileHeader, arch Arch) error {
	switch hdr.OSABI {
	case elf.ELFOSABI_NONE, elf.ELFOSABI_LINUX:
		// supported, pass
	default:
		return fmt.Errorf("%w: %s", ErrOSABINotSupported, hdr.OSABI)
	}

	if hdr.Machine != arch.ELFMachine() {
		return fmt.Errorf(
			"%w: %s on %s",
			ErrMachineNotSupported,
			hdr.Machine,
			arch,
		)
	}

	return nil
}

func readInterpreter(elfFile *elf.File) (string, error) {
	for _, prog := range elfFile.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}

		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return "", err
		}

		return string(bytes.TrimRight(data, "\x00")), nil
	}

	// Statically linked binaries do not have an interpreter.
	return "", nil
}

// readNeeded reads the DT_NEEDED entries from the PT_DYNAMIC segment.
//
// The string table is resolved through the loadable segment containing the
// DT_STRTAB address instead of the section table, since the latter may be
// stripped.
func readNeeded(elfFile *elf.File, r io.ReaderAt) ([]string, error) {
	var dynamic *elf.Prog

	for _, prog := range elfFile.Progs {
		if prog.Type == elf.PT_DYNAMIC {
			dynamic = prog
			break
		}
	}

	if dynamic == nil {
		return nil, nil
	}

	data, err := io.ReadAll(dynamic.Open())
	if err != nil {
		return nil, err
	}

	const dynEntrySize = 16

	var (
		offsets  []uint64
		strTab   uint64
		strTabSz uint64
	)

	for i := 0; i+dynEntrySize <= len(data); i += dynEntrySize {
		tag := elfFile.ByteOrder.Uint64(data[i : i+8])
		value := elfFile.ByteOrder.Uint64(data[i+8 : i+16])

		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			i = len(data)
		case elf.DT_NEEDED:
			offsets = append(offsets, value)
		case elf.DT_STRTAB:
			strTab = value
		case elf.DT_STRSZ:
			strTabSz = value
		}
	}

	if len(offsets) == 0 {
		return nil, nil
	}

	strs, err := readVirtual(elfFile, r, strTab, strTabSz)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(offsets))

	for _, offset := range offsets {
		if offset >= uint64(len(strs)) {
			continue
		}

		name := strs[offset:]
		if idx := bytes.IndexByte(name, 0); idx >= 0 {
			name = name[:idx]
		}

		names = append(names, string(name))
	}

	slices.Sort(names)

	return slices.Compact(names), nil
}

// readVirtual reads size bytes at the given virtual address by translating
// it through the loadable segment covering it.
func readVirtual(
	elfFile *elf.File,
	r io.ReaderAt,
	vaddr, size uint64,
) ([]byte, error) {
	for _, prog := range elfFile.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if vaddr < prog.Vaddr || vaddr+size > prog.Vaddr+prog.Filesz {
			continue
		}

		data := make([]byte, size)

		_, err := r.ReadAt(data, int64(prog.Off+(vaddr-prog.Vaddr)))
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}

		return data, nil
	}

	return nil, ErrStrTabNotFound
}
