// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pathctx resolves a relative path against an ordered list of root
// directories, returning the first root under which it exists. Earlier
// roots shadow later ones.
package pathctx

import (
	"os"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// PathContext is a non-empty, ordered list of directory roots.
type PathContext struct {
	roots []string
}

// New builds a PathContext from one or more root directories, in priority
// order.
func New(roots ...string) *PathContext {
	return &PathContext{roots: roots}
}

// Resolve returns the absolute path of the first root under which relative
// exists. relative is used verbatim, with no Clean or normalization applied
// by this package; callers are expected to pass a relative path.
func (pc *PathContext) Resolve(relative string) (string, error) {
	for _, root := range pc.roots {
		candidate, err := securejoin.SecureJoin(root, relative)
		if err != nil {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &bgerr.NotFound{Path: relative}
}

// Roots returns the root directories in priority order.
func (pc *PathContext) Roots() []string {
	return pc.roots
}
