// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
	units "github.com/docker/go-units"
	"github.com/klauspost/compress/flate"
)

// zip64Threshold is the on-disk size (2^32 bytes) at or above which the zip
// format requires the zip64 extensions to record an entry's size.
const zip64Threshold = 1 << 32

func init() {
	// Register klauspost/compress's deflate implementation in place of the
	// stdlib one; it produces the same bitstream but compresses faster.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
}

// InsertFiles writes entries into zw under a canonical, sorted layout, with
// a directory entry synthesized for every intermediate path. Two entries
// that share a Name are collapsed into one if they share the same Location
// (the aliasing case from the dependency resolver); if their Locations
// differ, InsertFiles fails with bgerr.DuplicateEntry.
func InsertFiles(zw *zip.Writer, entries []FileEntry) error {
	byName := make(map[string]string, len(entries))
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if existing, ok := byName[e.Name]; ok {
			if existing != e.Location {
				return &bgerr.DuplicateEntry{Name: e.Name}
			}
			continue
		}
		byName[e.Name] = e.Location
		names = append(names, e.Name)
	}

	sort.Strings(names)

	var prevAncestors []string
	for _, name := range names {
		parts := strings.Split(name, "/")
		ancestors := parts[:len(parts)-1]

		shared := true
		for depth := 1; depth <= len(ancestors); depth++ {
			if shared && depth <= len(prevAncestors) && ancestors[depth-1] == prevAncestors[depth-1] {
				continue
			}
			shared = false
			dirName := strings.Join(ancestors[:depth], "/") + "/"
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: dirName, Method: zip.Store}); err != nil {
				return &bgerr.Zip{Err: fmt.Errorf("writing directory entry %q: %w", dirName, err)}
			}
		}
		prevAncestors = ancestors

		if err := writeFileEntry(zw, name, byName[name]); err != nil {
			return err
		}
	}

	return nil
}

// WriteBytes inserts a synthesized file (a launcher script, the manifest
// itself) directly into zw under name, with the given permission bits and
// the current time as its modification time.
func WriteBytes(zw *zip.Writer, name string, mode os.FileMode, content []byte) error {
	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	fh.SetMode(mode)

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return &bgerr.Zip{Err: fmt.Errorf("creating entry %q: %w", name, err)}
	}
	if _, err := w.Write(content); err != nil {
		return &bgerr.Zip{Err: fmt.Errorf("writing entry %q: %w", name, err)}
	}
	return nil
}

func writeFileEntry(zw *zip.Writer, name, location string) error {
	f, err := os.Open(location)
	if err != nil {
		return &bgerr.IO{Path: location, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &bgerr.IO{Path: location, Err: err}
	}

	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	fh.SetMode(info.Mode().Perm())

	if info.Size() >= zip64Threshold {
		sylog.Verbosef("packing large file %s (%s) into %s", location, units.HumanSize(float64(info.Size())), name)
		fh.UncompressedSize64 = uint64(info.Size())
	}

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return &bgerr.Zip{Err: fmt.Errorf("creating entry %q: %w", name, err)}
	}

	if _, err := io.Copy(w, f); err != nil {
		return &bgerr.Zip{Err: fmt.Errorf("writing entry %q: %w", name, err)}
	}

	return nil
}
