// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"debug/elf"
	"io"
	"slices"
)

// GNU program property note constants. See the Linux gABI extensions and the
// x86-64 psABI.
const (
	noteTypeGNUProperty = 5 // NT_GNU_PROPERTY_TYPE_0

	propertyX86ISANeeded  = 0xc0008002 // GNU_PROPERTY_X86_ISA_1_NEEDED
	propertyX86FeatureAnd = 0xc0000002 // GNU_PROPERTY_X86_FEATURE_1_AND
)

// isaLevelTags maps GNU_PROPERTY_X86_ISA_1_* bits to feature tags, in bit
// order.
var isaLevelTags = []string{
	"x86-64-baseline",
	"x86-64-v2",
	"x86-64-v3",
	"x86-64-v4",
}

// featureAndTags maps GNU_PROPERTY_X86_FEATURE_1_* bits to feature tags, in
// bit order.
var featureAndTags = []string{
	"cet-ibt",
	"cet-shstk",
}

// readISAFeatures collects the instruction set feature tags declared in the
// GNU property notes of the given ELF file.
func readISAFeatures(elfFile *elf.File) ([]string, error) {
	var tags []string

	err := eachGNUProperty(elfFile, func(prType uint32, data []byte) {
		if len(data) < 4 {
			return
		}

		mask := elfFile.ByteOrder.Uint32(data[:4])

		switch prType {
		case propertyX86ISANeeded:
			tags = append(tags, maskTags(mask, isaLevelTags)...)
		case propertyX86FeatureAnd:
			tags = append(tags, maskTags(mask, featureAndTags)...)
		}
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(tags)

	return slices.Compact(tags), nil
}

// HasGNUPropertyNote reports whether the ELF file at the given path carries
// a GNU property note at all. Errors are mapped to false since callers use
// this only to select candidates for stripping.
func HasGNUPropertyNote(path string) bool {
	elfFile, err := elf.Open(path)
	if err != nil {
		return false
	}
	defer elfFile.Close()

	found := false

	err = eachGNUProperty(elfFile, func(uint32, []byte) {
		found = true
	})

	return err == nil && found
}

// eachGNUProperty walks all PT_NOTE segments and calls fn for every property
// entry of every NT_GNU_PROPERTY_TYPE_0 note.
func eachGNUProperty(elfFile *elf.File, fn func(prType uint32, data []byte)) error {
	for _, prog := range elfFile.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}

		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return err
		}

		// Property notes are 8-byte aligned in ELF64 files; other notes use
		// 4-byte alignment.
		align := int(prog.Align)
		if align != 8 {
			align = 4
		}

		eachNoteProperty(elfFile, data, align, fn)
	}

	return nil
}

func eachNoteProperty(
	elfFile *elf.File,
	data []byte,
	align int,
	fn func(prType uint32, data []byte),
) {
	pos := 0

	for pos+12 <= len(data) {
		nameSz := int(elfFile.ByteOrder.Uint32(data[pos : pos+4]))
		descSz := int(elfFile.ByteOrder.Uint32(data[pos+4 : pos+8]))
		noteType := elfFile.ByteOrder.Uint32(data[pos+8 : pos+12])

		nameOff := pos + 12
		descOff := alignUp(nameOff+nameSz, align)
		next := alignUp(descOff+descSz, align)

		if descOff+descSz > len(data) {
			return
		}

		name := data[nameOff : nameOff+nameSz]

		if noteType == noteTypeGNUProperty && string(name) == "GNU\x00" {
			eachProperty(elfFile, data[descOff:descOff+descSz], fn)
		}

		if next <= pos {
			return
		}

		pos = next
	}
}

func eachProperty(
	elfFile *elf.File,
	desc []byte,
	fn func(prType uint32, data []byte),
) {
	pos := 0

	for pos+8 <= len(desc) {
		prType := elfFile.ByteOrder.Uint32(desc[pos : pos+4])
		prDataSz := int(elfFile.ByteOrder.Uint32(desc[pos+4 : pos+8]))

		dataOff := pos + 8
		if dataOff+prDataSz > len(desc) {
			return
		}

		fn(prType, desc[dataOff:dataOff+prDataSz])

		// Property data is padded to 8 bytes in ELF64 files.
		pos = alignUp(dataOff+prDataSz, 8)
	}
}

func maskTags(mask uint32, tags []string) []string {
	var result []string

	for bit, tag := range tags {
		if mask&(1<<bit) != 0 {
			result = append(result, tag)
		}
	}

	return result
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
