// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package elfclose computes the transitive ELF dependency closure of a seed
// set of executables and libraries against a baseline cache (libraries
// guaranteed present on the target) and a build cache (libraries available
// in the build environment), preserving soname symlink aliasing.
package elfclose

import (
	"debug/elf"
	"path/filepath"
	"strings"

	"github.com/atari-vcs/bundle-gen/internal/pkg/archive"
	"github.com/atari-vcs/bundle-gen/internal/pkg/ldcache"
	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
)

// Caches bundles the two ld.so.cache views the resolver consults.
type Caches struct {
	Baseline *ldcache.Cache
	Build    *ldcache.Cache
}

// closure is the transient working state of one Resolve call.
type closure struct {
	caches Caches

	worklist []string
	queued   map[string]struct{}
	ownLibs  map[string]struct{}
	ownExtra map[string]archive.FileEntry

	out []archive.FileEntry
}

// Resolve walks the DT_NEEDED graph rooted at seeds and returns the
// additional library FileEntry values required to run them, in first-
// discovered order. seeds themselves are never included in the result.
func Resolve(caches Caches, seeds []archive.FileEntry) ([]archive.FileEntry, error) {
	c := &closure{
		caches:   caches,
		queued:   make(map[string]struct{}),
		ownLibs:  make(map[string]struct{}),
		ownExtra: make(map[string]archive.FileEntry),
	}

	for _, seed := range seeds {
		c.prepareSeed(seed)
	}

	for len(c.worklist) > 0 {
		n := len(c.worklist) - 1
		path := c.worklist[n]
		c.worklist = c.worklist[:n]

		if err := c.scan(path); err != nil {
			return nil, err
		}
	}

	return c.out, nil
}

func (c *closure) prepareSeed(entry archive.FileEntry) {
	c.ownLibs[filepath.Base(entry.Name)] = struct{}{}

	for _, alias := range aliasCandidates(entry) {
		c.ownExtra[alias.soname] = archive.FileEntry{
			Location: entry.Location,
			Name:     alias.name,
		}
	}

	if _, ok := c.queued[entry.Location]; !ok {
		c.queued[entry.Location] = struct{}{}
		c.worklist = append(c.worklist, entry.Location)
	}
}

type alias struct {
	soname string
	name   string
}

// aliasCandidates treats entry's basename as a dot-separated sequence and,
// for every non-empty prefix, probes the sibling path in the same directory
// as entry.Location. A sibling that canonicalizes back to entry.Location is
// a soname symlink alias of the seed (e.g. libfoo.so and libfoo.so.1 both
// pointing at libfoo.so.1.2.3).
func aliasCandidates(entry archive.FileEntry) []alias {
	base := filepath.Base(entry.Location)
	dir := filepath.Dir(entry.Location)
	archiveDir := pathDir(entry.Name)

	segments := strings.Split(base, ".")
	var aliases []alias

	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], ".")
		if prefix == base {
			continue
		}
		sibling := filepath.Join(dir, prefix)
		resolved, err := filepath.EvalSymlinks(sibling)
		if err != nil {
			continue
		}
		if resolved != entry.Location {
			continue
		}
		aliases = append(aliases, alias{
			soname: prefix,
			name:   pathJoin(archiveDir, prefix),
		})
	}

	return aliases
}

func (c *closure) scan(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		sylog.Debugf("not an ELF file, ignoring: %s: %v", path, err)
		return nil
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			sylog.Warningf("closing %s: %v", path, cerr)
		}
	}()

	needed, err := f.ImportedLibraries()
	if err != nil {
		return &bgerr.ELF{Path: path, Err: err}
	}

	for _, soname := range needed {
		if c.caches.Baseline.Contains(soname) {
			continue
		}
		if _, ok := c.ownLibs[soname]; ok {
			continue
		}
		if alias, ok := c.ownExtra[soname]; ok {
			c.out = append(c.out, alias)
			c.ownLibs[soname] = struct{}{}
			continue
		}

		resolved, ok := c.caches.Build.Lookup(soname)
		if !ok {
			return &bgerr.MissingDependency{Soname: soname}
		}

		c.ownLibs[soname] = struct{}{}
		if _, already := c.queued[resolved]; !already {
			c.out = append(c.out, archive.FileEntry{
				Location: resolved,
				Name:     "lib/" + soname,
			})
			c.queued[resolved] = struct{}{}
			c.worklist = append(c.worklist, resolved)
		}
	}

	return nil
}

func pathDir(name string) string {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return ""
	}
	return name[:i]
}

func pathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
