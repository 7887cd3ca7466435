// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package overlay

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Layer is one filesystem layer contributing paths to the merged guest view.
type Layer struct {
	// ID identifies the layer in violations and evidence records.
	ID string

	// Root is the layer's staging tree on the host. It is walked during
	// composition and verification.
	Root string

	// Image is the packed filesystem image reference handed to the guest
	// runtime. Root is handed over directly if unset.
	Image string

	// Role determines precedence and override permission.
	Role Role

	// OwnedPaths are absolute paths the layer claims exclusively in addition
	// to the contents of Root, e.g. paths only present in Image.
	OwnedPaths []string

	// AdditivePaths are absolute paths or directory prefixes that several
	// layers may legitimately provide, e.g. independent leaf libraries.
	AdditivePaths []string
}

// ImageRef returns the filesystem image reference for the guest runtime.
func (l *Layer) ImageRef() string {
	if l.Image != "" {
		return l.Image
	}

	return l.Root
}

// additive reports whether the layer declares the path additive.
func (l *Layer) additive(path string) bool {
	for _, prefix := range l.AdditivePaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}

	return false
}

// paths walks the layer's staging tree and returns all provided paths,
// absolute to the guest root, in lexical order. Both regular files and
// symlinks are provided paths; directories only shape them.
func (l *Layer) paths() ([]string, error) {
	if l.Root == "" {
		return append([]string(nil), l.OwnedPaths...), nil
	}

	paths := append([]string(nil), l.OwnedPaths...)

	err := filepath.WalkDir(l.Root, func(
		path string,
		entry fs.DirEntry,
		err error,
	) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}

		paths = append(paths, "/"+filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk layer %s: %w", l.ID, err)
	}

	return paths, nil
}

// Set is an ordered sequence of layers with the base-runtime layer always
// first.
type Set struct {
	layers []Layer
}

// NewSet creates a [Set] from the given layers. The first layer must have
// [RoleBaseRuntime]; dependency layers keep their caller-supplied order.
func NewSet(layers ...Layer) (Set, error) {
	if len(layers) == 0 || layers[0].Role != RoleBaseRuntime {
		return Set{}, ErrBaseMissing
	}

	seen := make(map[string]struct{}, len(layers))

	for _, layer := range layers {
		if layer.ID == "" {
			return Set{}, ErrLayerIDEmpty
		}

		if _, dup := seen[layer.ID]; dup {
			return Set{}, fmt.Errorf("%w: %s", ErrLayerIDDuplicated, layer.ID)
		}

		seen[layer.ID] = struct{}{}

		if layer.Role == RoleBaseRuntime && layer.ID != layers[0].ID {
			return Set{}, ErrBaseDuplicated
		}
	}

	return Set{layers: append([]Layer(nil), layers...)}, nil
}

// Append returns a new [Set] with the given layers added after the existing
// ones.
func (s Set) Append(layers ...Layer) (Set, error) {
	return NewSet(append(append([]Layer(nil), s.layers...), layers...)...)
}

// Layers returns the layers in guest handover order: base-runtime first,
// then the caller-supplied order.
func (s *Set) Layers() []Layer {
	return s.layers
}

// ImageRefs returns the ordered filesystem image references for the guest
// runtime, base-runtime first.
func (s *Set) ImageRefs() []string {
	refs := make([]string, len(s.layers))
	for idx, layer := range s.layers {
		refs[idx] = layer.ImageRef()
	}

	return refs
}

// ordered returns the layers in verification precedence order: base-runtime,
// gpu-support, dependency layers in caller order, base-refresh last. The
// sort is stable so equal roles keep their relative order.
func (s *Set) ordered() []Layer {
	ordered := append([]Layer(nil), s.layers...)

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 &&
			ordered[j].Role.precedence() < ordered[j-1].Role.precedence(); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	return ordered
}
