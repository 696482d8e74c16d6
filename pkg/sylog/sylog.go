// Copyright (c) Contributors to the bundle-gen project.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog implements a small leveled logger for bundle-gen, modeled on
// the Apptainer project's own message logger: level controlled by an
// environment variable, colorized when writing to a terminal, one line per
// message.
package sylog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// messageLevel mirrors syslog-style priority, lower is more severe.
type messageLevel int

const (
	FatalLevel messageLevel = iota - 4
	ErrorLevel
	WarnLevel
	LogLevel
	InfoLevel
	VerboseLevel
	DebugLevel
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "?"
	}
}

// EnvVar is the environment variable that sets the default logger level.
const EnvVar = "BUNDLEGEN_MESSAGELEVEL"

var messageColors = map[messageLevel]string{
	FatalLevel: "\x1b[31m",
	ErrorLevel: "\x1b[31m",
	WarnLevel:  "\x1b[33m",
	InfoLevel:  "\x1b[34m",
}

var (
	loggerLevel = InfoLevel
	colorOn     = true
	logWriter   = (io.Writer)(os.Stderr)
)

func init() {
	if l, err := strconv.Atoi(os.Getenv(EnvVar)); err == nil {
		loggerLevel = messageLevel(l)
	}
	if fi, err := os.Stderr.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		colorOn = false
	}
}

func prefix(msgLevel messageLevel) string {
	colorReset := "\x1b[0m"
	messageColor, ok := messageColors[msgLevel]
	if !ok || !colorOn {
		colorReset = ""
		messageColor = ""
	}
	return fmt.Sprintf("%s%-8s%s ", messageColor, msgLevel.String()+":", colorReset)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	if loggerLevel < msgLevel {
		return
	}
	message := strings.TrimRight(fmt.Sprintf(format, a...), "\n")
	fmt.Fprintf(logWriter, "%s%s\n", prefix(msgLevel), message)
}

// Fatalf writes a FATAL message and exits the process with status 1.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(1)
}

// Errorf writes an ERROR level message without exiting.
func Errorf(format string, a ...interface{}) {
	writef(ErrorLevel, format, a...)
}

// Warningf writes a WARNING level message.
func Warningf(format string, a ...interface{}) {
	writef(WarnLevel, format, a...)
}

// Infof writes an INFO level message. Shown by default.
func Infof(format string, a ...interface{}) {
	writef(InfoLevel, format, a...)
}

// Verbosef writes a VERBOSE level message.
func Verbosef(format string, a ...interface{}) {
	writef(VerboseLevel, format, a...)
}

// Debugf writes a DEBUG level message.
func Debugf(format string, a ...interface{}) {
	writef(DebugLevel, format, a...)
}

// SetLevel explicitly sets the logger level and whether to colorize output.
func SetLevel(l int, color bool) {
	loggerLevel = messageLevel(l)
	colorOn = color
}

var levelNames = map[string]messageLevel{
	"fatal":   FatalLevel,
	"error":   ErrorLevel,
	"warning": WarnLevel,
	"log":     LogLevel,
	"info":    InfoLevel,
	"verbose": VerboseLevel,
	"debug":   DebugLevel,
}

// SetLevelByName sets the logger level from one of the names in levelNames,
// as accepted on the command line.
func SetLevelByName(name string) error {
	l, ok := levelNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	loggerLevel = l
	return nil
}

// GetLevel returns the current logger level.
func GetLevel() int {
	return int(loggerLevel)
}

// Writer returns the io.Writer messages are sent to, or io.Discard when the
// logger is silenced.
func Writer() io.Writer {
	if loggerLevel <= LogLevel {
		return io.Discard
	}
	return logWriter
}

// SetWriter sets a new io.Writer for subsequent logging and returns the
// previous one, so tests can capture output.
func SetWriter(w io.Writer) io.Writer {
	old := logWriter
	if w != nil {
		logWriter = w
	}
	return old
}
