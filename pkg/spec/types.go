// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package spec holds the in-memory representation of a bundle build
// specification, decoded from the YAML document described in bundle-gen's
// design notes. The decoder rejects unknown fields; deeper semantic
// validation (the BundleSpec invariants) happens in Validate.
package spec

import "github.com/atari-vcs/bundle-gen/pkg/bgerr"

// Kind enumerates the three bundle kinds a BundleSpec may declare.
type Kind string

const (
	KindGame         Kind = "Game"
	KindApplication  Kind = "Application"
	KindLauncherOnly Kind = "LauncherOnly"
)

// BuildSpec is the portion of a specification that drives the external
// build: what to install, what helper modules to run, what command builds
// the program, and which files to collect afterwards.
type BuildSpec struct {
	VersionFile      string   `yaml:"VersionFile"`
	RequiredPackages []string `yaml:"RequiredPackages,omitempty"`
	RequiredModules  []string `yaml:"RequiredModules,omitempty"`
	BuildCommand     string   `yaml:"BuildCommand,omitempty"`
	Executables      []string `yaml:"Executables,omitempty"`
	Libraries        []string `yaml:"Libraries,omitempty"`
	Resources        []string `yaml:"Resources,omitempty"`
	ExtraELFFiles    []string `yaml:"ExtraELFFiles,omitempty"`
}

// BundleSpec is the user-visible manifest of a bundle: what it is called,
// which catalog it belongs to, and how it should be launched.
type BundleSpec struct {
	Name string `yaml:"Name"`
	Type Kind   `yaml:"Type"`

	StoreID    string `yaml:"StoreID,omitempty"`
	HomebrewID string `yaml:"HomebrewID,omitempty"`

	Exec           string `yaml:"Exec,omitempty"`
	Background     bool   `yaml:"Background,omitempty"`
	PreferXBoxMode bool   `yaml:"PreferXBoxMode,omitempty"`

	Launcher     string   `yaml:"Launcher,omitempty"`
	LauncherTags []string `yaml:"LauncherTags,omitempty"`
	LauncherExec string   `yaml:"LauncherExec,omitempty"`

	RunnerPatch string `yaml:"RunnerPatch,omitempty"`

	Build BuildSpec `yaml:"Build"`
}

// IsStore reports whether this bundle belongs to the store catalog, as
// opposed to the community (homebrew) catalog.
func (b *BundleSpec) IsStore() bool {
	return b.StoreID != ""
}

// Validate enforces the shape invariants from the design: exactly one
// origin ID, launcher_exec/launcher_tags paired, Type-appropriate Exec
// requirements, and community-bundle restrictions. It is the external
// validation step the generator assumes has already run once, but the
// generator calls it again defensively before composing the manifest (see
// manifest.Compose), matching the apparent double-check in the reference
// tool this design is based on.
func (b *BundleSpec) Validate() error {
	hasStore := b.StoreID != ""
	hasHomebrew := b.HomebrewID != ""
	if hasStore == hasHomebrew {
		return &bgerr.BundleOriginUnknown{}
	}

	if (b.LauncherExec != "") != (len(b.LauncherTags) > 0) {
		return &bgerr.InvalidField{Field: "LauncherExec/LauncherTags", Reason: "must be set together"}
	}
	if b.LauncherExec != "" && hasHomebrew {
		return &bgerr.InvalidField{Field: "LauncherExec", Reason: "not allowed on community bundles"}
	}

	switch b.Type {
	case KindGame, KindApplication:
		if b.Exec == "" {
			return &bgerr.MissingField{Field: "Exec"}
		}
		if b.LauncherExec != "" {
			return &bgerr.InvalidField{Field: "LauncherExec", Reason: "only valid on LauncherOnly bundles"}
		}
	case KindLauncherOnly:
		if b.Exec != "" {
			return &bgerr.InvalidField{Field: "Exec", Reason: "forbidden on LauncherOnly bundles"}
		}
		if b.LauncherExec == "" {
			return &bgerr.MissingField{Field: "LauncherExec"}
		}
	default:
		return &bgerr.InvalidField{Field: "Type", Reason: "must be Game, Application, or LauncherOnly"}
	}

	if hasHomebrew {
		if len(b.LauncherTags) > 0 {
			return &bgerr.InvalidField{Field: "LauncherTags", Reason: "not allowed on community bundles"}
		}
		if b.Background {
			return &bgerr.InvalidField{Field: "Background", Reason: "not allowed on community bundles"}
		}
	}

	return nil
}
