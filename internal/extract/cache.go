// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emurun/emurun/internal/bundle"

	"golang.org/x/sync/singleflight"
)

// completeMarker is written next to an extracted tree once extraction
// finished. A tree without the marker is a leftover of an interrupted
// extraction and is redone.
const completeMarker = ".complete"

// Result is the outcome of one extraction: the root of the extracted tree,
// the content identity it is cached under and the backend that produced it.
type Result struct {
	Root     string `json:"root"`
	Identity string `json:"identity"`
	Backend  string `json:"backend"`
}

// Cache is the process-wide extraction cache, keyed by blob content
// identity.
//
// It is passed into the pipeline explicitly rather than kept as ambient
// global state. Concurrent requests for the same identity share a single
// extraction; later requesters wait for and reuse the first result. Entries
// outlive the process; garbage collection is an external concern.
type Cache struct {
	dir   string
	group singleflight.Group
}

// NewCache creates a [Cache] storing extracted trees below dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Identity derives the content identity of the blob at the given path. It is
// a function of the blob's bytes, not its name, so renamed or copied bundles
// share one cache entry.
func Identity(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	defer file.Close()

	digest := sha256.New()

	_, err = io.Copy(digest, file)
	if err != nil {
		return "", fmt.Errorf("hash blob: %w", err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// Extract returns the extracted tree for the blob, extracting it with the
// given backend on first use.
func (c *Cache) Extract(
	ctx context.Context,
	backend Backend,
	blobPath string,
	payload bundle.ValidatedPayload,
) (Result, error) {
	identity, err := Identity(blobPath)
	if err != nil {
		return Result{}, err
	}

	value, err, _ := c.group.Do(identity, func() (any, error) {
		return c.extract(ctx, backend, blobPath, payload, identity)
	})
	if err != nil {
		return Result{}, err
	}

	return value.(Result), nil
}

func (c *Cache) extract(
	ctx context.Context,
	backend Backend,
	blobPath string,
	payload bundle.ValidatedPayload,
	identity string,
) (Result, error) {
	entryDir := filepath.Join(c.dir, identity)
	root := filepath.Join(entryDir, "root")
	marker := filepath.Join(entryDir, completeMarker)

	result := Result{
		Root:     root,
		Identity: identity,
		Backend:  backend.Name(),
	}

	if _, err := os.Stat(marker); err == nil {
		return result, nil
	}

	if err := os.RemoveAll(root); err != nil {
		return Result{}, fmt.Errorf("clear stale tree: %w", err)
	}

	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create cache entry: %w", err)
	}

	if err := backend.Extract(ctx, blobPath, payload, root); err != nil {
		return Result{}, err
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return Result{}, fmt.Errorf("write cache marker: %w", err)
	}

	return result, nil
}
