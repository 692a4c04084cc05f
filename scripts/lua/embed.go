// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package lualib carries the Lua library modules scripts can require.
package lualib

import "embed"

// FS holds fiber.lua, leap.lua and util.lua.
//
//go:embed *.lua
var FS embed.FS
