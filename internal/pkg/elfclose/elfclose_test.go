// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package elfclose

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atari-vcs/bundle-gen/internal/pkg/archive"
	"github.com/atari-vcs/bundle-gen/internal/pkg/ldcache"
	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"gotest.tools/v3/assert"
)

// writeMinimalELF writes a syntactically minimal little-endian ELF64 file
// to path whose dynamic section declares DT_NEEDED for each of needed, in
// order. It carries no program headers (debug/elf's ImportedLibraries only
// consults the section table) and no code, only the section headers and
// data required to exercise DT_NEEDED parsing.
func writeMinimalELF(t *testing.T, path string, needed []string) {
	t.Helper()
	bo := binary.LittleEndian

	// .dynstr: a leading NUL (index 0 means "no name") followed by each
	// soname, NUL terminated.
	var dynstr bytes.Buffer
	dynstr.WriteByte(0)
	offsets := make([]uint32, len(needed))
	for i, n := range needed {
		offsets[i] = uint32(dynstr.Len())
		dynstr.WriteString(n)
		dynstr.WriteByte(0)
	}

	const (
		dtNeeded = 1
		dtNull   = 0
	)

	var dynamic bytes.Buffer
	putDyn := func(tag int64, val uint64) {
		var b [16]byte
		bo.PutUint64(b[0:8], uint64(tag))
		bo.PutUint64(b[8:16], val)
		dynamic.Write(b[:])
	}
	for _, off := range offsets {
		putDyn(dtNeeded, uint64(off))
	}
	putDyn(dtNull, 0)

	// .shstrtab: section name strings.
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameDynstr := uint32(shstrtab.Len())
	shstrtab.WriteString(".dynstr")
	shstrtab.WriteByte(0)
	nameDynamic := uint32(shstrtab.Len())
	shstrtab.WriteString(".dynamic")
	shstrtab.WriteByte(0)
	nameShstrtab := uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)

	const ehdrSize = 64
	const shdrSize = 64

	dynstrOff := uint64(ehdrSize)
	dynamicOff := dynstrOff + uint64(dynstr.Len())
	shstrtabOff := dynamicOff + uint64(dynamic.Len())
	shoff := shstrtabOff + uint64(shstrtab.Len())

	var buf bytes.Buffer

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1, /* ELFDATA2LSB */
		1 /* EI_VERSION */, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	u16 := func(v uint16) { var b [2]byte; bo.PutUint16(b[:], v); buf.Write(b[:]) }
	u32 := func(v uint32) { var b [4]byte; bo.PutUint32(b[:], v); buf.Write(b[:]) }
	u64 := func(v uint64) { var b [8]byte; bo.PutUint64(b[:], v); buf.Write(b[:]) }

	u16(3)  // e_type = ET_DYN
	u16(62) // e_machine = EM_X86_64
	u32(1)  // e_version
	u64(0)  // e_entry
	u64(0)  // e_phoff
	u64(shoff)
	u32(0)        // e_flags
	u16(ehdrSize) // e_ehsize
	u16(56)       // e_phentsize
	u16(0)        // e_phnum
	u16(shdrSize) // e_shentsize
	u16(4)        // e_shnum
	u16(3)        // e_shstrndx

	assert.Equal(t, buf.Len(), ehdrSize)

	buf.Write(dynstr.Bytes())
	buf.Write(dynamic.Bytes())
	buf.Write(shstrtab.Bytes())

	const (
		shtNull   = 0
		shtDynamc = 6
		shtStrtab = 3
	)

	writeShdr := func(name uint32, typ uint32, offset, size uint64, link uint32) {
		u32(name)
		u32(typ)
		u64(0) // sh_flags
		u64(0) // sh_addr
		u64(offset)
		u64(size)
		u32(link)
		u32(0) // sh_info
		u64(1) // sh_addralign
		u64(0) // sh_entsize
	}

	// [0] NULL section
	writeShdr(0, shtNull, 0, 0, 0)
	// [1] .dynstr
	writeShdr(nameDynstr, shtStrtab, dynstrOff, uint64(dynstr.Len()), 0)
	// [2] .dynamic, linked to .dynstr
	writeShdr(nameDynamic, shtDynamc, dynamicOff, uint64(dynamic.Len()), 1)
	// [3] .shstrtab
	writeShdr(nameShstrtab, shtStrtab, shstrtabOff, uint64(shstrtab.Len()), 0)

	assert.NilError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeNonELF(t *testing.T, path string) {
	t.Helper()
	assert.NilError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))
}

// buildLdCacheFixture assembles a minimal, valid ld.so.cache buffer (old
// header wrapping a new-format header, entry table, string table) for the
// given soname -> path map, in the host's native byte order, matching the
// layout ldcache.Parse expects.
func buildLdCacheFixture(t *testing.T, libs map[string]string) []byte {
	t.Helper()
	bo := binary.NativeEndian

	oldMagic := []byte("ld.so-1.7.0\x00")
	newMagic := []byte("glibc-ld.so.cache1.1")
	const newEntrySize = 4 + 4 + 4 + 4 + 8

	type kv struct{ key, value string }
	var entries []kv
	for k, v := range libs {
		entries = append(entries, kv{k, v})
	}

	prefixLen := len(newMagic) + 4 + 4 + 5*4 + len(entries)*newEntrySize

	var strs bytes.Buffer
	offsets := make([]struct{ key, value uint32 }, len(entries))
	for i, e := range entries {
		offsets[i].key = uint32(prefixLen + strs.Len())
		strs.WriteString(e.key)
		strs.WriteByte(0)
		offsets[i].value = uint32(prefixLen + strs.Len())
		strs.WriteString(e.value)
		strs.WriteByte(0)
	}

	var newHeader bytes.Buffer
	newHeader.Write(newMagic)
	u32 := func(v uint32) {
		var b [4]byte
		bo.PutUint32(b[:], v)
		newHeader.Write(b[:])
	}
	u32(uint32(len(entries)))
	u32(uint32(strs.Len()))
	for i := 0; i < 5; i++ {
		u32(0)
	}
	for _, off := range offsets {
		u32(0) // flags
		u32(off.key)
		u32(off.value)
		u32(0) // osVersion
		var hwcap [8]byte
		newHeader.Write(hwcap[:])
	}
	newHeader.Write(strs.Bytes())

	oldLen := len(oldMagic) + 4
	pad := ((oldLen+8-1)/8)*8 - oldLen

	var buf bytes.Buffer
	buf.Write(oldMagic)
	var zero [4]byte
	buf.Write(zero[:])
	buf.Write(make([]byte, pad))
	buf.Write(newHeader.Bytes())

	return buf.Bytes()
}

func TestResolveSimpleChain(t *testing.T) {
	dir := t.TempDir()

	demo := filepath.Join(dir, "demo")
	writeMinimalELF(t, demo, []string{"libc.so.6"})

	baseline, err := ldcache.Parse(buildLdCacheFixture(t, map[string]string{"libc.so.6": "/lib/libc.so.6"}))
	assert.NilError(t, err)
	build, err := ldcache.Parse(buildLdCacheFixture(t, nil))
	assert.NilError(t, err)

	seeds := []archive.FileEntry{{Location: demo, Name: "bin/demo"}}
	deps, err := Resolve(Caches{Baseline: baseline, Build: build}, seeds)
	assert.NilError(t, err)
	assert.Equal(t, len(deps), 0)
}

func TestResolveBuildCacheDependency(t *testing.T) {
	dir := t.TempDir()

	demo := filepath.Join(dir, "demo")
	writeMinimalELF(t, demo, []string{"libc.so.6", "libfoo.so.1"})

	foo := filepath.Join(dir, "libfoo.so.1.2.3")
	writeMinimalELF(t, foo, nil)

	baseline, err := ldcache.Parse(buildLdCacheFixture(t, map[string]string{"libc.so.6": "/lib/libc.so.6"}))
	assert.NilError(t, err)
	build, err := ldcache.Parse(buildLdCacheFixture(t, map[string]string{"libfoo.so.1": foo}))
	assert.NilError(t, err)

	seeds := []archive.FileEntry{{Location: demo, Name: "bin/demo"}}
	deps, err := Resolve(Caches{Baseline: baseline, Build: build}, seeds)
	assert.NilError(t, err)
	assert.Equal(t, len(deps), 1)
	assert.Equal(t, deps[0].Name, "lib/libfoo.so.1")
	assert.Equal(t, deps[0].Location, foo)
}

func TestResolveMissingDependencyFails(t *testing.T) {
	dir := t.TempDir()

	demo := filepath.Join(dir, "demo")
	writeMinimalELF(t, demo, []string{"libmissing.so.7"})

	baseline, err := ldcache.Parse(buildLdCacheFixture(t, nil))
	assert.NilError(t, err)
	build, err := ldcache.Parse(buildLdCacheFixture(t, nil))
	assert.NilError(t, err)

	seeds := []archive.FileEntry{{Location: demo, Name: "bin/demo"}}
	_, err = Resolve(Caches{Baseline: baseline, Build: build}, seeds)

	var missing *bgerr.MissingDependency
	assert.Assert(t, errors.As(err, &missing))
	assert.Equal(t, missing.Soname, "libmissing.so.7")
}

func TestResolveToleratesNonELFSeed(t *testing.T) {
	dir := t.TempDir()

	script := filepath.Join(dir, "helper")
	writeNonELF(t, script)

	baseline, err := ldcache.Parse(buildLdCacheFixture(t, nil))
	assert.NilError(t, err)
	build, err := ldcache.Parse(buildLdCacheFixture(t, nil))
	assert.NilError(t, err)

	seeds := []archive.FileEntry{{Location: script, Name: "_unused/helper"}}
	deps, err := Resolve(Caches{Baseline: baseline, Build: build}, seeds)
	assert.NilError(t, err)
	assert.Equal(t, len(deps), 0)
}
