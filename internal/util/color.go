// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorFormatter provides a function type for getting color codes by level
type ColorFormatter func(level string) string

// LevelColor is the default ColorFormatter for script output levels.
func LevelColor(level string) string {
	switch level {
	case "DEBUG":
		return "90"
	case "WARN":
		return "33"
	case "ERROR":
		return "31"
	}
	return ""
}

// SupportsColor checks if the terminal supports ANSI color codes
func SupportsColor() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) { // #nosec G115 - file descriptors are small integers
		return false
	}

	termEnv := os.Getenv("TERM")
	if termEnv == "" || termEnv == "dumb" {
		return false
	}

	return true
}

// FormatOutputWithColor colors a "LEVEL: message" output line by its level.
// Lines without a known level prefix are returned unchanged.
func FormatOutputWithColor(line string, colorFormatter ColorFormatter) string {
	if !SupportsColor() {
		return line
	}
	return colorize(line, colorFormatter)
}

func colorize(line string, colorFormatter ColorFormatter) string {
	if colorFormatter == nil {
		return line
	}
	level, _, ok := strings.Cut(line, ":")
	if !ok {
		return line
	}
	colorCode := colorFormatter(level)
	if colorCode == "" {
		return line
	}

	return fmt.Sprintf("\033[%sm%s\033[0m", colorCode, line)
}
