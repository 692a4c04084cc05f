// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestRequireCachesModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counter.lua", "loads = (loads or 0) + 1\nreturn {n = loads}")
	main := writeFile(t, dir, "main.lua",
		"local a = require('counter')\nlocal b = require('counter')\nreturn a == b, loads")
	s := newTestSession(t, Options{})

	count, got := s.ExprFile(nil, main)
	if count != 2 {
		t.Fatalf("ExprFile() = (%d, %v)", count, got)
	}
	if !got.Index(0).AsBool() {
		t.Error("second require returned a different value")
	}
	if got.Index(1).AsInteger() != 1 {
		t.Errorf("module body ran %d times, want 1", got.Index(1).AsInteger())
	}
}

func TestRequireSuffixOrderAndSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib/pick.luau", "return {which = 'luau'}")
	writeFile(t, dir, "lib/pick.lua", "return {which = 'lua'}")
	main := writeFile(t, dir, "main.lua", "return require('lib/pick').which")
	s := newTestSession(t, Options{})

	if _, got := s.ExprFile(nil, main); got.AsString() != "luau" {
		t.Errorf("require picked %v, want luau", got)
	}
}

func TestRequireLibraryPath(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, "shared.lua", "return function(x) return x * 2 end")
	s := newTestSession(t, Options{LibraryPaths: []string{lib}})

	if count, got := s.Evaluate(nil, "lua: line", "return require('shared')(21)"); count != 1 || got.AsInteger() != 42 {
		t.Errorf("Evaluate() = (%d, %v), want (1, 42)", count, got)
	}
}

func TestRequireModuleSeesNoCallerLocals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "peek.lua", "return {seen = secret}")
	main := writeFile(t, dir, "main.lua", "local secret = 'hidden'\nreturn require('peek').seen")
	s := newTestSession(t, Options{})

	if count, got := s.ExprFile(nil, main); count != 1 || !got.IsUndefined() {
		t.Errorf("module saw caller local: (%d, %v)", count, got)
	}
}

func TestRequireErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "number.lua", "return 5")
	writeFile(t, dir, "nothing.lua", "local x = 1")
	writeFile(t, dir, "broken.lua", "error('module exploded', 0)")
	writeFile(t, dir, "syntax.lua", "return {")
	writeFile(t, dir, "yields.lua", "coroutine.yield(1)\nreturn {}")

	tests := []struct {
		name    string
		module  string
		wantMsg string
	}{
		{"absolute path", "/etc/hosts", "cannot require a full path"},
		{"missing", "nope", "could not find require('nope')"},
		{"wrong type", "number", "must return a table or function, not number"},
		{"no value", "nothing", "must return a value"},
		{"runtime error", "broken", "module exploded"},
		{"compile error", "syntax", "syntax.lua"},
		{"yield", "yields", "yield"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := writeFile(t, dir, "main_"+tt.module[strings.LastIndex(tt.module, "/")+1:]+".lua",
				"return require('"+tt.module+"')")
			s := newTestSession(t, Options{})

			count, got := s.ExprFile(nil, main)
			if count != -1 {
				t.Fatalf("ExprFile() = (%d, %v), want failure", count, got)
			}
			if !strings.Contains(got.AsString(), tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", got.AsString(), tt.wantMsg)
			}
			if s.LastError().Kind != KindModule {
				t.Errorf("kind = %v, want module", s.LastError().Kind)
			}
			cached := 0
			modules(s.Lua()).ForEach(func(_, _ lua.LValue) { cached++ })
			if cached != 0 {
				t.Error("failed module was cached")
			}
		})
	}
}

func TestFiberAutoRun(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, "fiber.lua", "local M = {}\nfunction M.run() fiber_ran = (fiber_ran or 0) + 1 end\nreturn M")
	s := newTestSession(t, Options{LibraryPaths: []string{lib}})

	if count, got := s.Evaluate(nil, "test", "require('fiber')"); count != 0 {
		t.Fatalf("Evaluate() = (%d, %v)", count, got)
	}
	if _, got := s.Evaluate(nil, "test", "return fiber_ran"); got.AsInteger() != 1 {
		t.Errorf("fiber_ran = %v, want 1", got)
	}
}

func TestFiberRunErrorReported(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, "fiber.lua", "return {run = function() error('fiber failed', 0) end}")
	s := newTestSession(t, Options{LibraryPaths: []string{lib}})

	count, got := s.Evaluate(nil, "test", "require('fiber'); return 1")
	if count != -1 || got.AsString() != "fiber failed" {
		t.Errorf("Evaluate() = (%d, %v), want fiber.run error", count, got)
	}
}

func TestRequireCycles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "self.lua", "return require('self')")
	writeFile(t, dir, "ping.lua", "return {pong = require('pong')}")
	writeFile(t, dir, "pong.lua", "return {ping = require('ping')}")
	writeFile(t, dir, "plain.lua", "return {ok = true}")
	plain := writeFile(t, dir, "main_plain.lua", "return require('plain').ok")

	tests := []struct {
		name    string
		module  string
		wantMsg string
	}{
		{"self", "self", "require('self') is recursive"},
		{"two modules", "ping", "require('ping') is recursive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := writeFile(t, dir, "main_"+tt.module+".lua", "return require('"+tt.module+"')")
			s := newTestSession(t, Options{})

			count, got := s.ExprFile(nil, main)
			if count != -1 || !strings.Contains(got.AsString(), tt.wantMsg) {
				t.Fatalf("ExprFile() = (%d, %q), want failure containing %q", count, got.AsString(), tt.wantMsg)
			}
			if s.LastError().Kind != KindModule {
				t.Errorf("kind = %v, want module", s.LastError().Kind)
			}
			if len(s.loading) != 0 {
				t.Errorf("loading = %v after failure, want empty", s.loading)
			}

			// The session still loads modules afterwards.
			if count, got := s.ExprFile(nil, plain); count != 1 || !got.AsBool() {
				t.Errorf("after cycle: ExprFile() = (%d, %v), want (1, true)", count, got)
			}
		})
	}
}

func TestRequireDepthLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.lua", "return {b = require('b')}")
	writeFile(t, dir, "b.lua", "return {c = require('c')}")
	writeFile(t, dir, "c.lua", "return {}")
	main := writeFile(t, dir, "main.lua", "return require('a') ~= nil")

	lim := DefaultLimits()
	lim.RequireDepthMax = 2
	s := newTestSession(t, Options{Limits: lim})
	count, got := s.ExprFile(nil, main)
	if count != -1 || !strings.Contains(got.AsString(), "require('c') nested too deeply") {
		t.Errorf("ExprFile() = (%d, %q), want depth failure", count, got.AsString())
	}

	deep := newTestSession(t, Options{})
	if count, got := deep.ExprFile(nil, main); count != 1 || !got.AsBool() {
		t.Errorf("default limit: ExprFile() = (%d, %v), want (1, true)", count, got)
	}
}

func TestCaughtRequireFailureIsNotModuleError(t *testing.T) {
	s := newTestSession(t, Options{})

	count, got := s.Evaluate(nil, "test", "pcall(require, 'nope') error('plain runtime', 0)")
	if count != -1 || got.AsString() != "plain runtime" {
		t.Fatalf("Evaluate() = (%d, %q)", count, got.AsString())
	}
	if s.LastError().Kind != KindRuntime {
		t.Errorf("kind = %v, want runtime", s.LastError().Kind)
	}
}
