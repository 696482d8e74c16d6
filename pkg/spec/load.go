// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a BundleSpec from the YAML document at path.
// Unknown fields are rejected, matching the strict decode idiom used
// elsewhere for this project's configuration files.
func Load(path string) (*BundleSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spec file %q: %w", path, err)
	}
	defer f.Close()

	var b BundleSpec
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode spec file %q: %w", path, err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	return &b, nil
}
