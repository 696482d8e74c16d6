// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atari-vcs/bundle-gen/internal/pkg/genbuild"
	"github.com/atari-vcs/bundle-gen/internal/pkg/pathctx"
	"github.com/atari-vcs/bundle-gen/pkg/spec"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	noColor  bool

	green = color.New(color.FgGreen, color.Bold).SprintFunc()
)

func main() {
	root := &cobra.Command{
		Use:           "bundle-gen <spec.yaml>",
		Short:         "Generate a self-contained bundle from a build specification",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: fatal, error, warning, info, verbose, debug")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
		sylog.SetLevel(sylog.GetLevel(), false)
	}

	if cmd.Flags().Changed("log-level") {
		if err := sylog.SetLevelByName(logLevel); err != nil {
			return err
		}
	}

	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	b, err := spec.Load(specPath)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	pc := pathctx.New(cwd, filepath.Dir(specPath))

	stem := filepath.Join(filepath.Dir(specPath), genbuild.Stem(specPath))
	result, err := genbuild.Generate(context.Background(), pc, b, stem)
	if err != nil {
		return err
	}

	fmt.Printf("%s wrote %s (version %s)\n", green("done:"), result.OutputPath, result.Version)
	return nil
}
