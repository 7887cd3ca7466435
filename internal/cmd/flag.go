// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emurun/emurun/internal/extract"
	"github.com/emurun/emurun/internal/overlay"
)

type FilePath string

func (f *FilePath) String() string {
	return string(*f)
}

func (f *FilePath) Set(s string) error {
	path, err := AbsoluteFilePath(s)

	*f = FilePath(path)

	return err
}

// StringList is a repeatable plain string flag. An empty value clears the
// list.
type StringList []string

func (l *StringList) String() string {
	return strings.Join(*l, ",")
}

func (l *StringList) Set(s string) error {
	if s == "" {
		*l = nil
		return nil
	}

	*l = append(*l, s)

	return nil
}

// LayerList collects overlay layers from repeated "id=root[:image]" flag
// values. All layers of a list share one role.
type LayerList struct {
	Role   overlay.Role
	Layers []overlay.Layer
}

func (l *LayerList) String() string {
	refs := make([]string, len(l.Layers))
	for idx, layer := range l.Layers {
		refs[idx] = layer.ID
	}

	return strings.Join(refs, ",")
}

func (l *LayerList) Set(s string) error {
	id, rest, found := strings.Cut(s, "=")
	if !found {
		return fmt.Errorf("%w: expected id=root[:image], got %q",
			ErrEmptyLayerID, s)
	}

	if id == "" {
		return ErrEmptyLayerID
	}

	root, image, _ := strings.Cut(rest, ":")
	if root == "" {
		return ErrEmptyLayerRoot
	}

	root, err := AbsoluteFilePath(root)
	if err != nil {
		return err
	}

	if image != "" {
		image, err = AbsoluteFilePath(image)
		if err != nil {
			return err
		}
	}

	l.Layers = append(l.Layers, overlay.Layer{
		ID:    id,
		Root:  root,
		Image: image,
		Role:  l.Role,
	})

	return nil
}

// BackendValue selects the payload extraction backend by name.
type BackendValue struct {
	Backend extract.Backend
}

func (b *BackendValue) String() string {
	if b.Backend == nil {
		return ""
	}

	return b.Backend.Name()
}

func (b *BackendValue) Set(s string) error {
	switch s {
	case "unsquashfs":
		b.Backend = &extract.UnsquashfsBackend{}
	case "self-extract":
		b.Backend = &extract.SelfExtractBackend{}
	default:
		return fmt.Errorf("unknown extraction backend: %q", s)
	}

	return nil
}

// ValidateFilePath checks the path names an existing regular file.
func ValidateFilePath(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !stat.Mode().IsRegular() {
		return ErrNotRegularFile
	}

	return nil
}

func AbsoluteFilePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyFilePath
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	return path, nil
}
