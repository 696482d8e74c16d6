// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package collect expands user-nominated files and directories into the
// flat (on-disk location, in-archive name) pairs the archive writer
// consumes.
package collect

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/atari-vcs/bundle-gen/internal/pkg/archive"
	"github.com/atari-vcs/bundle-gen/internal/pkg/pathctx"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
)

// CollectItems resolves each of items through pc and expands it into one or
// more archive.FileEntry values rooted under archivePrefix ("bin", "lib",
// "res"). A directory item expands recursively; if the item string ends in
// a trailing slash, its own basename is omitted from the archive path
// ("expand contents into prefix" rather than "nest under prefix/basename").
func CollectItems(pc *pathctx.PathContext, items []string, archivePrefix string) ([]archive.FileEntry, error) {
	var entries []archive.FileEntry

	for _, item := range items {
		trailingSlash := strings.HasSuffix(item, "/")
		trimmed := strings.TrimSuffix(item, "/")

		resolved, err := pc.Resolve(trimmed)
		if err != nil {
			return nil, err
		}

		abs, err := filepath.EvalSymlinks(resolved)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}

		base := filepath.Base(item)

		switch {
		case info.Mode().IsRegular():
			entries = append(entries, archive.FileEntry{
				Location: abs,
				Name:     path.Join(archivePrefix, base),
			})
		case info.IsDir():
			prefix := archivePrefix
			if !trailingSlash {
				prefix = path.Join(archivePrefix, base)
			}
			dirEntries, err := collectDir(abs, prefix)
			if err != nil {
				return nil, err
			}
			entries = append(entries, dirEntries...)
		default:
			sylog.Warningf("skipping %s: neither a regular file nor a directory", item)
		}
	}

	return entries, nil
}

func collectDir(root, archivePrefix string) ([]archive.FileEntry, error) {
	var entries []archive.FileEntry

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			sylog.Warningf("skipping %s: %v", p, err)
			return nil
		}
		if p == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}

		info, err := d.Info()
		if err != nil {
			sylog.Warningf("skipping %s: %v", p, err)
			return nil
		}

		switch {
		case info.Mode().IsRegular():
			entries = append(entries, archive.FileEntry{
				Location: p,
				Name:     path.Join(archivePrefix, filepath.ToSlash(rel)),
			})
		case d.IsDir():
			// directory entries themselves are synthesized by the archive
			// writer; nothing to emit here.
		default:
			sylog.Warningf("skipping %s: neither a regular file nor a directory", p)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return entries, nil
}
