// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package manifest synthesizes the launcher scripts and the bundle.ini
// metadata file written into every archive, from a validated BundleSpec and
// the version string discovered during the build phase.
package manifest

import (
	"bytes"
	"os"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"github.com/atari-vcs/bundle-gen/pkg/spec"
	"github.com/go-ini/ini"
)

const (
	scriptMode = os.FileMode(0o755)

	// RunScriptName is the wrapper emitted for a plain Exec with no
	// external Launcher.
	RunScriptName = "run.sh"
	// LaunchScriptName is the wrapper emitted for a store bundle's
	// LauncherExec.
	LaunchScriptName = "launch.sh"
	// RunnerPatchName is the fixed archive-root name a declared
	// RunnerPatch file is inserted under.
	RunnerPatchName = "runner-patch"
	// FileName is the manifest's own archive-root name.
	FileName = "bundle.ini"
)

// GeneratedFile is a manifest-synthesized archive member: script text
// composed in memory rather than copied from disk.
type GeneratedFile struct {
	Name string
	Mode os.FileMode
	Data []byte
}

// Result is everything Compose derives from a BundleSpec: the generated
// scripts to insert and the bundle.ini field set.
type Result struct {
	Generated []GeneratedFile
	Fields    map[string]string
}

// Compose derives the bundle.ini fields and any additional generated files
// (run.sh, launch.sh) implied by b and version. It re-runs b.Validate so
// that a caller composing a manifest from a spec it did not itself load
// still gets the community-bundle field restrictions enforced.
func Compose(b *spec.BundleSpec, version string) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]string{
		"Name":    b.Name,
		"Type":    string(b.Type),
		"Version": version,
	}
	if b.StoreID != "" {
		fields["StoreID"] = b.StoreID
	}
	if b.HomebrewID != "" {
		fields["HomebrewID"] = b.HomebrewID
	}
	if b.Background {
		fields["Background"] = "true"
	}
	if b.PreferXBoxMode {
		fields["PreferXBoxMode"] = "true"
	}

	var generated []GeneratedFile

	switch {
	case b.Exec != "" && b.Launcher == "":
		runScript, err := synthesizeLauncher(b.Exec)
		if err != nil {
			return nil, err
		}
		generated = append(generated, GeneratedFile{
			Name: RunScriptName,
			Mode: scriptMode,
			Data: runScript,
		})
		fields["Exec"] = RunScriptName
	case b.Exec != "":
		fields["Exec"] = b.Exec
	}

	// Launcher is recorded whenever set, independent of Exec: a
	// LauncherOnly bundle has no Exec at all but may still declare an
	// external Launcher to hand off to.
	if b.Launcher != "" {
		fields["Launcher"] = b.Launcher
	}

	if b.LauncherExec != "" {
		if !b.IsStore() {
			return nil, &bgerr.InvalidField{Field: "LauncherExec", Reason: "not allowed on community bundles"}
		}
		launchScript, err := synthesizeLauncher(b.LauncherExec)
		if err != nil {
			return nil, err
		}
		generated = append(generated, GeneratedFile{
			Name: LaunchScriptName,
			Mode: scriptMode,
			Data: launchScript,
		})
		fields["LauncherExec"] = LaunchScriptName
		fields["LauncherTags"] = joinTags(b.LauncherTags)
	}

	return &Result{Generated: generated, Fields: fields}, nil
}

func joinTags(tags []string) string {
	var buf bytes.Buffer
	for i, t := range tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t)
	}
	return buf.String()
}

// WriteINI renders fields (as produced by Compose.Fields) into the
// bundle.ini text format: a single [Bundle] section with PascalCase keys,
// omitting anything not set.
func WriteINI(fields map[string]string) ([]byte, error) {
	cfg := ini.Empty()
	section, err := cfg.NewSection("Bundle")
	if err != nil {
		return nil, err
	}

	order := []string{
		"Name", "Type", "StoreID", "HomebrewID", "Exec", "EncryptedImage",
		"Version", "Background", "PreferXBoxMode", "Launcher", "LauncherTags",
		"LauncherExec",
	}
	for _, key := range order {
		val, ok := fields[key]
		if !ok {
			continue
		}
		if _, err := section.NewKey(key, val); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
