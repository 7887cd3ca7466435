// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/emurun/emurun/internal/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// superblock returns a structurally valid payload header.
func superblock(major uint16, blockSize uint32) []byte {
	header := make([]byte, 96)
	copy(header, "hsqs")
	binary.LittleEndian.PutUint32(header[12:], blockSize)
	binary.LittleEndian.PutUint16(header[28:], major)

	return header
}

func TestLocatePayload(t *testing.T) {
	tests := []struct {
		name           string
		blob           func() []byte
		expectedOffset uint64
		assertErr      require.ErrorAssertionFunc
	}{
		{
			name: "valid payload at zero",
			blob: func() []byte {
				return superblock(4, 131072)
			},
			expectedOffset: 0,
			assertErr:      require.NoError,
		},
		{
			name: "spurious magic before valid payload",
			blob: func() []byte {
				var blob bytes.Buffer

				blob.Write(make([]byte, 100))
				// Raw magic in unrelated data, no valid superblock.
				blob.WriteString("hsqs")
				blob.Write(make([]byte, 200))
				blob.Write(superblock(4, 4096))

				return blob.Bytes()
			},
			expectedOffset: 304,
			assertErr:      require.NoError,
		},
		{
			name: "unsupported major version skipped",
			blob: func() []byte {
				var blob bytes.Buffer

				blob.Write(superblock(3, 131072))
				blob.Write(superblock(4, 131072))

				return blob.Bytes()
			},
			expectedOffset: 96,
			assertErr:      require.NoError,
		},
		{
			name: "block size not power of two skipped",
			blob: func() []byte {
				var blob bytes.Buffer

				blob.Write(superblock(4, 131070))
				blob.Write(superblock(4, 131072))

				return blob.Bytes()
			},
			expectedOffset: 96,
			assertErr:      require.NoError,
		},
		{
			name: "block size out of range skipped",
			blob: func() []byte {
				var blob bytes.Buffer

				blob.Write(superblock(4, 2048))
				blob.Write(superblock(4, 1<<21))
				blob.Write(superblock(4, 1<<20))

				return blob.Bytes()
			},
			expectedOffset: 192,
			assertErr:      require.NoError,
		},
		{
			name: "magic split across scan chunks",
			blob: func() []byte {
				var blob bytes.Buffer

				// Place the superblock so the magic straddles the 64KiB
				// chunk boundary.
				blob.Write(make([]byte, 64*1024-2))
				blob.Write(superblock(4, 4096))

				return blob.Bytes()
			},
			expectedOffset: 64*1024 - 2,
			assertErr:      require.NoError,
		},
		{
			name: "exhausted without valid payload",
			blob: func() []byte {
				var blob bytes.Buffer

				blob.WriteString("hsqs")
				blob.Write(make([]byte, 500))

				return blob.Bytes()
			},
			assertErr: func(t require.TestingT, err error, _ ...any) {
				require.ErrorIs(t, err, bundle.ErrNoPayload)
			},
		},
		{
			name: "empty blob",
			blob: func() []byte {
				return nil
			},
			assertErr: func(t require.TestingT, err error, _ ...any) {
				require.ErrorIs(t, err, bundle.ErrNoPayload)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := bundle.LocatePayload(bytes.NewReader(tt.blob()))
			tt.assertErr(t, err)

			if err == nil {
				assert.Equal(t, tt.expectedOffset, payload.Offset)
			}
		})
	}
}

// A blob with a spurious early magic occurrence and the real superblock at
// byte offset 944632, the shape self-extracting bundles actually have.
func TestLocatePayloadLargeOffset(t *testing.T) {
	const payloadOffset = 944632

	blob := make([]byte, payloadOffset+96)
	copy(blob[1000:], "hsqs")
	copy(blob[payloadOffset:], superblock(4, 131072))

	payload, err := bundle.LocatePayload(bytes.NewReader(blob))
	require.NoError(t, err)

	assert.Equal(t, uint64(payloadOffset), payload.Offset)
	assert.Equal(t, uint16(4), payload.Major)
	assert.Equal(t, uint32(131072), payload.BlockSize)
}
