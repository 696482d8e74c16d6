// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package manifest

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/atari-vcs/bundle-gen/pkg/bgerr"
	"github.com/atari-vcs/bundle-gen/pkg/sylog"
	"mvdan.cc/sh/v3/shell"
)

var launcherTemplate = template.Must(template.New("launcher").Parse(
	`#!/bin/sh
dir=$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)
export LD_LIBRARY_PATH="$dir/lib${LD_LIBRARY_PATH:+:$LD_LIBRARY_PATH}"
exec "$dir/{{.Program}}" {{.Args}}"$@"
`))

type launcherData struct {
	Program string
	Args    string
}

// synthesizeLauncher builds the contents of a run.sh/launch.sh wrapper for
// exec. exec is tokenized by POSIX-shell word-splitting rules; the first
// token is the program path relative to the archive root and the remainder
// are fixed arguments, single-quoted on emission so the shell never
// reinterprets them. If tokenization genuinely fails to parse exec, exec is
// used verbatim as the program path with no fixed arguments. If tokenization
// succeeds but yields no tokens at all (an empty or all-whitespace exec),
// that is not a fallback case: it is a bad command, and synthesizeLauncher
// fails with bgerr.BadCommand.
func synthesizeLauncher(exec string) ([]byte, error) {
	data := launcherData{Program: exec}

	tokens, err := shell.Fields(context.Background(), exec, nil)
	switch {
	case err != nil:
		sylog.Warningf("could not tokenize exec %q, using it verbatim: %v", exec, err)
	case len(tokens) == 0:
		return nil, &bgerr.BadCommand{Exec: exec}
	default:
		data.Program = tokens[0]
		var args strings.Builder
		for _, tok := range tokens[1:] {
			args.WriteString(quoteSingle(tok))
			args.WriteByte(' ')
		}
		data.Args = args.String()
	}

	var buf bytes.Buffer
	// launcherTemplate is a fixed, compile-time template; rendering it
	// cannot fail.
	_ = launcherTemplate.Execute(&buf, data)
	return buf.Bytes(), nil
}

// quoteSingle wraps s in single quotes, escaping any embedded single quote
// by closing the quote, emitting an escaped quote, and reopening it.
func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
