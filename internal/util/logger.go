// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger. It defaults to slog.Default() so that
// packages used from tests log somewhere before InitLogger runs.
var Logger = slog.Default()

// ParseLevel maps a config level name to a slog level. Unknown names are Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InitLogger initializes the global logger writing to w (stderr if nil).
// Set LUAHOST_DEBUG=1 to force debug logging regardless of level.
func InitLogger(w io.Writer, level string) {
	if w == nil {
		w = os.Stderr
	}
	lvl := ParseLevel(level)
	if os.Getenv("LUAHOST_DEBUG") != "" {
		lvl = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		// Drop the timestamp for cleaner CLI output
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})

	Logger = slog.New(handler)
}

// Debug logs a debug message (only shown when LUAHOST_DEBUG is set)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
