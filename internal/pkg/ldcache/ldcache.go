// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ldcache parses the glibc ld.so.cache binary format: the "old"
// header wrapping a "new" (glibc >= 2.2) header, followed by a flat entry
// table and a string table. See glibc's sysdeps/generic/dl-cache.h for the
// authoritative format description.
//
// Two caches are built from this package: a baseline cache, a precomputed
// snapshot of the libraries guaranteed present on the target platform, and
// a build cache, the live cache of the build environment.
package ldcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
)

// DefaultPath is the live system ld.so.cache, consulted by LoadSystem.
const DefaultPath = "/etc/ld.so.cache"

// DefaultBaselinePath is the well-known location of the precomputed
// baseline snapshot. It is a simple filesystem path rather than a build
// flag so that operators can update it independently of a bundle-gen
// release; BaselinePathEnv overrides it for testing or for sites that keep
// the snapshot elsewhere.
const DefaultBaselinePath = "/var/lib/bundle-gen/baseline-ld.so.cache"

// BaselinePathEnv, when set, overrides DefaultBaselinePath.
const BaselinePathEnv = "BUNDLEGEN_BASELINE_CACHE"

// SystemPathEnv, when set, overrides DefaultPath. Exists so tests can point
// the build cache at a fixture without touching /etc.
const SystemPathEnv = "BUNDLEGEN_LD_SO_CACHE"

var (
	oldMagic = []byte("ld.so-1.7.0\x00")
	newMagic = []byte("glibc-ld.so.cache1.1")
)

const newEntrySize = 4 + 4 + 4 + 4 + 8 // flags, key, value, osVersion, hwcap

// Cache is a parsed ld.so.cache: a multimap from soname to the absolute
// paths registered for it, in cache order (first entry is what the dynamic
// linker would prefer).
type Cache struct {
	paths map[string][]string
}

// Contains reports whether soname has at least one entry in the cache.
func (c *Cache) Contains(soname string) bool {
	_, ok := c.paths[soname]
	return ok
}

// Lookup returns the first registered absolute path for soname.
func (c *Cache) Lookup(soname string) (string, bool) {
	paths, ok := c.paths[soname]
	if !ok || len(paths) == 0 {
		return "", false
	}
	return paths[0], true
}

// LoadSystem reads and parses the live ld.so.cache of the build
// environment (or BUNDLEGEN_LD_SO_CACHE, if set).
func LoadSystem() (*Cache, error) {
	path := DefaultPath
	if p := os.Getenv(SystemPathEnv); p != "" {
		path = p
	}
	return load(path)
}

// LoadBaseline reads and parses the precomputed baseline snapshot (or
// BUNDLEGEN_BASELINE_CACHE, if set).
func LoadBaseline() (*Cache, error) {
	path := DefaultBaselinePath
	if p := os.Getenv(BaselinePathEnv); p != "" {
		path = p
	}
	return load(path)
}

func load(path string) (*Cache, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &bgerr.Cache{Path: path, Err: err}
	}
	c, err := Parse(b)
	if err != nil {
		return nil, &bgerr.Cache{Path: path, Err: err}
	}
	return c, nil
}

// Parse decodes a ld.so.cache buffer in the host's native byte order.
func Parse(b []byte) (*Cache, error) {
	newHeader, err := splitOldHeader(b)
	if err != nil {
		return nil, err
	}
	stringTable := newHeader

	if !bytes.HasPrefix(newHeader, newMagic) {
		return nil, fmt.Errorf("invalid new-format magic")
	}
	rest := newHeader[len(newMagic):]

	if len(rest) < 2*4+5*4 {
		return nil, fmt.Errorf("truncated new-format header")
	}
	bo := binary.NativeEndian
	nlibs := int(bo.Uint32(rest))
	rest = rest[4:]
	lenStrings := int(bo.Uint32(rest))
	rest = rest[4+5*4:] // skip len_strings + the five 32-bit words after it

	entriesLen := nlibs * newEntrySize
	if len(rest) < entriesLen {
		return nil, fmt.Errorf("truncated entry table")
	}
	rawEntries := rest[:entriesLen]
	rest = rest[entriesLen:]
	if len(rest) != lenStrings {
		return nil, fmt.Errorf("string table length mismatch")
	}

	getString := func(idx int) (string, error) {
		if idx < 0 || idx > len(stringTable) {
			return "", fmt.Errorf("string table index out of bounds")
		}
		end := bytes.IndexByte(stringTable[idx:], 0)
		if end < 0 {
			return "", fmt.Errorf("unterminated string table entry")
		}
		return string(stringTable[idx : idx+end]), nil
	}

	c := &Cache{paths: make(map[string][]string)}
	for i := 0; i < nlibs; i++ {
		e := rawEntries[i*newEntrySize : (i+1)*newEntrySize]
		keyIdx := int(bo.Uint32(e[4:]))
		valIdx := int(bo.Uint32(e[8:]))

		key, err := getString(keyIdx)
		if err != nil {
			return nil, fmt.Errorf("entry %d key: %w", i, err)
		}
		val, err := getString(valIdx)
		if err != nil {
			return nil, fmt.Errorf("entry %d value: %w", i, err)
		}
		c.paths[key] = append(c.paths[key], val)
	}

	return c, nil
}

// splitOldHeader validates and strips the old-format header that every
// ld.so.cache is wrapped in for backward compatibility, returning the
// new-format header (8-byte aligned). String-table offsets in the
// new-format entries are absolute from the start of this same slice: the
// new format's magic, fixed header, and entry table all sit in front of
// the actual string bytes they index into.
func splitOldHeader(b []byte) (newHeader []byte, err error) {
	if !bytes.HasPrefix(b, oldMagic) {
		return nil, fmt.Errorf("invalid old-format magic")
	}
	off := len(oldMagic)
	b = b[off:]

	if len(b) < 4 {
		return nil, fmt.Errorf("truncated old-format header")
	}
	bo := binary.NativeEndian
	nlibs := int(bo.Uint32(b))
	off += 4
	b = b[4:]

	const oldEntrySize = 4 + 4 + 4
	skip := oldEntrySize * nlibs
	if len(b) < skip {
		return nil, fmt.Errorf("truncated old-format entry table")
	}
	off += skip
	b = b[skip:]

	pad := ((off+8-1)/8)*8 - off
	if len(b) < pad {
		return nil, fmt.Errorf("truncated alignment padding")
	}
	return b[pad:], nil
}
