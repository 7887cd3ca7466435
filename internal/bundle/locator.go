// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
)

// Superblock layout constants of the embedded squashfs image.
const (
	payloadMagic = "hsqs"

	superblockSize    = 96
	blockSizeFieldOff = 12
	majorVersionOff   = 28
	supportedMajor    = 4
	blockSizeMin      = 4096
	blockSizeMax      = 1 << 20
	scanChunkSize     = 64 * 1024
	magicOverlap      = len(payloadMagic) - 1
)

// CandidateImage is a potential embedded filesystem image: a byte offset
// into the blob plus the raw superblock bytes read at that offset. It only
// lives for one locate-and-validate pass.
type CandidateImage struct {
	Offset uint64
	Header [superblockSize]byte
}

// ValidatedPayload identifies where extraction of the embedded filesystem
// image must start. It is only produced for candidates that passed
// structural validation.
type ValidatedPayload struct {
	Offset    uint64 `json:"offset"`
	Major     uint16 `json:"major"`
	BlockSize uint32 `json:"blockSize"`
}

// LocatePayload scans the blob for the first structurally valid embedded
// filesystem image.
//
// The magic sequence may occur spuriously in unrelated binary data, so a raw
// match is never enough: each candidate is validated against the superblock
// layout and scanning continues past candidates that fail. If the blob is
// exhausted without a valid candidate, [ErrNoPayload] is returned.
func LocatePayload(r io.ReaderAt) (ValidatedPayload, error) {
	buf := make([]byte, scanChunkSize)

	var pos uint64

	for {
		n, readErr := r.ReadAt(buf, int64(pos))
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return ValidatedPayload{}, fmt.Errorf("read blob: %w", readErr)
		}

		chunk := buf[:n]

		for idx := 0; ; {
			rel := bytes.Index(chunk[idx:], []byte(payloadMagic))
			if rel < 0 {
				break
			}

			idx += rel

			candidate, err := readCandidate(r, pos+uint64(idx))
			if err != nil {
				return ValidatedPayload{}, err
			}

			if payload, ok := candidate.validate(); ok {
				return payload, nil
			}

			idx++
		}

		if errors.Is(readErr, io.EOF) || n < magicOverlap+1 {
			return ValidatedPayload{}, ErrNoPayload
		}

		// Overlap so a magic sequence split across chunks is still found.
		pos += uint64(n - magicOverlap)
	}
}

// LocatePayloadFile is a convenience wrapper around [LocatePayload] for a
// blob on disk.
func LocatePayloadFile(path string) (ValidatedPayload, error) {
	file, err := os.Open(path)
	if err != nil {
		return ValidatedPayload{}, fmt.Errorf("open blob: %w", err)
	}
	defer file.Close()

	return LocatePayload(file)
}

func readCandidate(r io.ReaderAt, offset uint64) (CandidateImage, error) {
	candidate := CandidateImage{Offset: offset}

	n, err := r.ReadAt(candidate.Header[:], int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return candidate, fmt.Errorf("read candidate header: %w", err)
	}

	// Short headers are left zeroed and fail validation.
	clear(candidate.Header[n:])

	return candidate, nil
}

// validate checks the structural invariants of the superblock: known magic,
// supported major version and a block size field that is a power of two in
// the sane range.
func (c *CandidateImage) validate() (ValidatedPayload, bool) {
	if !bytes.Equal(c.Header[:len(payloadMagic)], []byte(payloadMagic)) {
		return ValidatedPayload{}, false
	}

	major := binary.LittleEndian.Uint16(c.Header[majorVersionOff:])
	if major != supportedMajor {
		return ValidatedPayload{}, false
	}

	blockSize := binary.LittleEndian.Uint32(c.Header[blockSizeFieldOff:])
	if blockSize < blockSizeMin || blockSize > blockSizeMax {
		return ValidatedPayload{}, false
	}

	if bits.OnesCount32(blockSize) != 1 {
		return ValidatedPayload{}, false
	}

	return ValidatedPayload{
		Offset:    c.Offset,
		Major:     major,
		BlockSize: blockSize,
	}, true
}
