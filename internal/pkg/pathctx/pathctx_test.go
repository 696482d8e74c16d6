// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package pathctx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"gotest.tools/v3/assert"
)

func TestResolveFirstRootWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	assert.NilError(t, os.WriteFile(filepath.Join(first, "demo"), []byte("first"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(second, "demo"), []byte("second"), 0o644))

	pc := New(first, second)
	resolved, err := pc.Resolve("demo")
	assert.NilError(t, err)
	assert.Equal(t, resolved, filepath.Join(first, "demo"))
}

func TestResolveFallsThroughToSecondRoot(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	assert.NilError(t, os.WriteFile(filepath.Join(second, "only-here"), []byte("x"), 0o644))

	pc := New(first, second)
	resolved, err := pc.Resolve("only-here")
	assert.NilError(t, err)
	assert.Equal(t, resolved, filepath.Join(second, "only-here"))
}

func TestResolveNotFound(t *testing.T) {
	pc := New(t.TempDir())
	_, err := pc.Resolve("nope")

	var notFound *bgerr.NotFound
	assert.Assert(t, errors.As(err, &notFound))
}

func TestRoots(t *testing.T) {
	pc := New("a", "b", "c")
	assert.DeepEqual(t, pc.Roots(), []string{"a", "b", "c"})
}
