// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package genbuild orchestrates the full bundle build: install packages, run
// required modules, run the build command, collect declared files, resolve
// the ELF dependency closure, and stream the result into a zip archive
// alongside its bundle.ini manifest.
package genbuild

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/atari-vcs/bundle-gen/internal/pkg/archive"
	"github.com/atari-vcs/bundle-gen/internal/pkg/collect"
	"github.com/atari-vcs/bundle-gen/internal/pkg/elfclose"
	"github.com/atari-vcs/bundle-gen/internal/pkg/ldcache"
	"github.com/atari-vcs/bundle-gen/internal/pkg/manifest"
	"github.com/atari-vcs/bundle-gen/internal/pkg/pathctx"
	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"github.com/atari-vcs/bundle-gen/pkg/spec"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
	"github.com/google/renameio"
	"github.com/google/uuid"
)

const (
	binPrefix    = "bin"
	libPrefix    = "lib"
	resPrefix    = "res"
	unusedPrefix = "_unused"
)

// Result is what a successful Generate call produced.
type Result struct {
	// RunID identifies this build invocation in log output; it has no
	// bearing on the archive contents.
	RunID      uuid.UUID
	OutputPath string
	Version    string
	LogPath    string
}

// Generate runs the full build pipeline described by b, rooted at pc, and
// writes the resulting bundle to <stem>_<version>.bundle and the build log
// to <stem>.log. stem is a path prefix chosen by the caller; the CLI passes
// the spec file's path with its extension removed.
func Generate(ctx context.Context, pc *pathctx.PathContext, b *spec.BundleSpec, stem string) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	runID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating a build run id: %w", err)
	}

	logPath := stem + ".log"
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &bgerr.IO{Path: logPath, Err: err}
	}
	defer logFile.Close()

	sylog.Infof("build %s: starting", runID)

	if err := installPackages(ctx, b.Build.RequiredPackages, logFile); err != nil {
		return nil, err
	}

	if err := runModules(ctx, pc, b.Build.RequiredModules, logFile); err != nil {
		return nil, err
	}

	if b.Build.BuildCommand != "" {
		if err := runCommand(ctx, pc, b.Build.BuildCommand, logFile); err != nil {
			logBuildFailureTail(logPath)
			return nil, err
		}
	}

	bins, err := collect.CollectItems(pc, b.Build.Executables, binPrefix)
	if err != nil {
		return nil, err
	}
	libs, err := collect.CollectItems(pc, b.Build.Libraries, libPrefix)
	if err != nil {
		return nil, err
	}
	resources, err := collect.CollectItems(pc, b.Build.Resources, resPrefix)
	if err != nil {
		return nil, err
	}
	extraELF, err := collect.CollectItems(pc, b.Build.ExtraELFFiles, unusedPrefix)
	if err != nil {
		return nil, err
	}

	seeds := make([]archive.FileEntry, 0, len(bins)+len(extraELF)+len(libs))
	seeds = append(seeds, bins...)
	seeds = append(seeds, extraELF...)
	seeds = append(seeds, libs...)

	caches, err := loadCaches()
	if err != nil {
		return nil, err
	}

	deps, err := elfclose.Resolve(caches, seeds)
	if err != nil {
		return nil, err
	}

	version, err := readVersion(pc, b.Build.VersionFile)
	if err != nil {
		return nil, err
	}

	outputPath := fmt.Sprintf("%s_%s.bundle", stem, version)
	out, err := renameio.TempFile("", outputPath)
	if err != nil {
		return nil, &bgerr.IO{Path: outputPath, Err: err}
	}
	defer out.Cleanup()

	zw := zip.NewWriter(out)

	toInsert := make([]archive.FileEntry, 0, len(bins)+len(libs)+len(resources)+len(deps))
	toInsert = append(toInsert, bins...)
	toInsert = append(toInsert, libs...)
	toInsert = append(toInsert, resources...)
	toInsert = append(toInsert, deps...)

	if err := archive.InsertFiles(zw, toInsert); err != nil {
		zw.Close()
		return nil, err
	}

	if err := finalizeManifest(zw, pc, b, version); err != nil {
		zw.Close()
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, &bgerr.Zip{Err: err}
	}

	if err := out.CloseAtomicallyReplace(); err != nil {
		return nil, &bgerr.IO{Path: outputPath, Err: err}
	}

	sylog.Infof("build %s: wrote %s", runID, outputPath)

	return &Result{
		RunID:      runID,
		OutputPath: outputPath,
		Version:    version,
		LogPath:    logPath,
	}, nil
}

func installPackages(ctx context.Context, packages []string, log io.Writer) error {
	if len(packages) == 0 {
		return nil
	}
	args := append([]string{"install", "-y"}, packages...)
	cmd := exec.CommandContext(ctx, "apt-get", args...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	cmd.Stdout = io.MultiWriter(os.Stdout, log)
	cmd.Stderr = io.MultiWriter(os.Stderr, log)
	if err := cmd.Run(); err != nil {
		return &bgerr.Build{Command: cmd.String(), Err: err}
	}
	return nil
}

func runModules(ctx context.Context, pc *pathctx.PathContext, modules []string, log io.Writer) error {
	for _, module := range modules {
		if err := runCommand(ctx, pc, module, log); err != nil {
			return err
		}
	}
	if len(modules) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, "ldconfig")
	cmd.Stdout = io.MultiWriter(os.Stdout, log)
	cmd.Stderr = io.MultiWriter(os.Stderr, log)
	if err := cmd.Run(); err != nil {
		return &bgerr.Build{Command: cmd.String(), Err: err}
	}
	return nil
}

func runCommand(ctx context.Context, pc *pathctx.PathContext, name string, log io.Writer) error {
	resolved, err := pc.Resolve(name)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, resolved)
	cmd.Stdout = io.MultiWriter(os.Stdout, log)
	cmd.Stderr = io.MultiWriter(os.Stderr, log)
	if err := cmd.Run(); err != nil {
		return &bgerr.Build{Command: resolved, Err: err}
	}
	return nil
}

// logTailBytes bounds how much of a failed build's log is echoed to the
// console; the full log remains on disk at logPath regardless.
const logTailBytes = 4096

// logBuildFailureTail surfaces the end of the build log on a build_command
// failure, so operators see the likely cause without a separate open of
// logPath for the common case.
func logBuildFailureTail(logPath string) {
	b, err := os.ReadFile(logPath)
	if err != nil {
		return
	}
	if len(b) > logTailBytes {
		b = b[len(b)-logTailBytes:]
	}
	sylog.Errorf("build command failed; tail of %s:\n%s", logPath, b)
}

func loadCaches() (elfclose.Caches, error) {
	baseline, err := ldcache.LoadBaseline()
	if err != nil {
		return elfclose.Caches{}, err
	}
	build, err := ldcache.LoadSystem()
	if err != nil {
		return elfclose.Caches{}, err
	}
	return elfclose.Caches{Baseline: baseline, Build: build}, nil
}

func readVersion(pc *pathctx.PathContext, versionFile string) (string, error) {
	resolved, err := pc.Resolve(versionFile)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(resolved)
	if err != nil {
		return "", &bgerr.IO{Path: resolved, Err: err}
	}
	return strings.TrimSpace(string(b)), nil
}

func finalizeManifest(zw *zip.Writer, pc *pathctx.PathContext, b *spec.BundleSpec, version string) error {
	result, err := manifest.Compose(b, version)
	if err != nil {
		return err
	}

	for _, g := range result.Generated {
		if err := archive.WriteBytes(zw, g.Name, g.Mode, g.Data); err != nil {
			return err
		}
	}

	if b.RunnerPatch != "" {
		resolved, err := pc.Resolve(b.RunnerPatch)
		if err != nil {
			return err
		}
		// Routed through InsertFiles, not WriteBytes, so the runner patch
		// keeps its real on-disk permission bits (it may be executable)
		// instead of a fixed mode.
		patch := []archive.FileEntry{{Location: resolved, Name: manifest.RunnerPatchName}}
		if err := archive.InsertFiles(zw, patch); err != nil {
			return err
		}
	}

	ini, err := manifest.WriteINI(result.Fields)
	if err != nil {
		return err
	}
	return archive.WriteBytes(zw, manifest.FileName, 0o644, ini)
}

// Stem derives the archive basename (without extension) that a spec file
// path contributes to the output bundle filename, e.g.
// "/builds/demo.yaml" -> "demo".
func Stem(specPath string) string {
	base := filepath.Base(specPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
