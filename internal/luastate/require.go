// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
)

// moduleSuffixes are tried in order for every candidate path.
var moduleSuffixes = []string{".luau", ".lua"}

// require resolves name relative to the calling script's directory, then
// each library path, and returns the module value. Results are cached per
// VM by absolute suffixed path. All failures raise a Lua error.
func (s *Session) require(L *lua.LState, name string) lua.LValue {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) {
		s.moduleErr = "cannot require a full path"
		L.ArgError(1, "cannot require a full path")
	}

	cache := modules(L)
	bases := append([]string{scriptDir(L)}, s.opts.LibraryPaths...)
	for _, base := range bases {
		candidate, err := filepath.Abs(filepath.Join(base, cleaned))
		if err != nil {
			continue
		}
		if mod, ok := s.findModule(L, cache, cleaned, candidate); ok {
			return mod
		}
	}

	s.moduleErr = fmt.Sprintf("could not find require('%s')", cleaned)
	L.RaiseError("%s", s.moduleErr)
	return lua.LNil
}

// findModule tries each suffix of candidate against the cache, then the
// file system. A module found on disk is run and cached. A module that is
// already loading fails instead of running again.
func (s *Session) findModule(L *lua.LState, cache *lua.LTable, name, candidate string) (lua.LValue, bool) {
	for _, suffix := range moduleSuffixes {
		path := candidate + suffix
		if mod := cache.RawGetString(path); mod != lua.LNil {
			return mod, true
		}
		source, err := os.ReadFile(path)
		if err != nil || len(source) == 0 {
			continue
		}
		if s.loading[path] {
			s.moduleFailed(L, fmt.Sprintf("require('%s') is recursive", name))
		}
		if len(s.loading) >= s.opts.Limits.RequireDepthMax {
			s.moduleFailed(L, fmt.Sprintf("require('%s') nested too deeply", name))
		}
		s.loading[path] = true
		mod := func() lua.LValue {
			defer delete(s.loading, path)
			return s.runModule(L, path, source)
		}()
		cache.RawSetString(path, mod)
		return mod, true
	}
	return lua.LNil, false
}

// runModule executes a module chunk on its own thread so that it cannot see
// the caller's locals or yield the caller's coroutine.
func (s *Session) runModule(L *lua.LState, path string, source []byte) lua.LValue {
	fn, err := L.Load(bytes.NewReader(source), path)
	if err != nil {
		s.moduleFailed(L, errorMessage(err))
	}

	th, cancel := L.NewThread()
	if cancel != nil {
		defer cancel()
	}
	if L.Context() != nil {
		th.SetContext(s.guard)
	}
	state, err, values := L.Resume(th, fn)
	switch state {
	case lua.ResumeError:
		s.moduleFailed(L, errorMessage(err))
	case lua.ResumeYield:
		s.moduleFailed(L, fmt.Sprintf("module %s attempted to yield", path))
	}

	if len(values) == 0 {
		s.moduleFailed(L, fmt.Sprintf("module %s must return a value", path))
	}
	switch mod := values[0].(type) {
	case *lua.LTable, *lua.LFunction:
		return mod
	default:
		s.moduleFailed(L, fmt.Sprintf("module %s must return a table or function, not %s", path, mod.Type()))
	}
	return lua.LNil
}

// moduleFailed raises msg unchanged; it already carries its position.
func (s *Session) moduleFailed(L *lua.LState, msg string) {
	s.moduleErr = msg
	L.Error(lua.LString(msg), 0)
}

// scriptPath is the chunk name of the innermost Lua function on L's stack.
func scriptPath(L *lua.LState) string {
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			return ""
		}
		if _, err := L.GetInfo("S", dbg, lua.LNil); err != nil {
			return ""
		}
		if dbg.What != "G" {
			return dbg.Source
		}
	}
}

// scriptDir is the directory of the calling script when its chunk name is
// a file; otherwise the working directory, as "".
func scriptDir(L *lua.LState) string {
	path := scriptPath(L)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return filepath.Dir(path)
	}
	return ""
}
