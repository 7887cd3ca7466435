// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package evidence

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/cpio"
)

const recordName = "record.json"

// WriteArchive packs the record and the given artifact files into a single
// cpio archive. Artifacts that vanished since they were produced are
// skipped; the record itself is always present.
func WriteArchive(path string, record *Record, artifacts []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer file.Close()

	writer := cpio.NewWriter(file)

	var encoded bytes.Buffer
	if err := record.Encode(&encoded); err != nil {
		return err
	}

	if err := writeEntry(writer, recordName, encoded.Bytes()); err != nil {
		return err
	}

	for _, artifact := range artifacts {
		data, err := os.ReadFile(artifact)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("read artifact %s: %w", artifact, err)
		}

		name := filepath.Base(artifact)
		if name == recordName {
			name = "artifact-" + name
		}

		if err := writeEntry(writer, name, data); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	return file.Close()
}

func writeEntry(writer *cpio.Writer, name string, data []byte) error {
	hdr := &cpio.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}

	if err := writer.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write archive header %s: %w", name, err)
	}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}

	return nil
}
