// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package luafunc holds the process-wide table of Go functions exposed to
// Lua scripts. Packages register their functions from init(); each session
// publishes the whole table into its own VM.
package luafunc

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Handle identifies a registered function. The zero Handle is never issued.
type Handle int

// Entry is one registered function.
type Entry struct {
	Name   string
	Handle Handle
	Fn     lua.LGFunction
	Help   string
}

var (
	entries   = map[string]*Entry{}
	byHandle  = map[Handle]*Entry{}
	entriesMu sync.RWMutex
)

// Register adds fn under name. Registration happens at init time, so a
// duplicate name is a programming error and panics.
func Register(name string, fn lua.LGFunction, help string) Handle {
	entriesMu.Lock()
	defer entriesMu.Unlock()

	if _, exists := entries[name]; exists {
		panic(fmt.Sprintf("luafunc: %q already registered", name))
	}
	e := &Entry{
		Name:   name,
		Handle: Handle(len(entries) + 1),
		Fn:     fn,
		Help:   help,
	}
	entries[name] = e
	byHandle[e.Handle] = e
	return e.Handle
}

// Lookup returns the entry registered under name.
func Lookup(name string) (Entry, bool) {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	e, ok := entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Get returns the function registered under name, or nil.
func Get(name string) lua.LGFunction {
	e, ok := Lookup(name)
	if !ok {
		return nil
	}
	return e.Fn
}

// NameOf returns the name registered for h, or "" if h is unknown.
func NameOf(h Handle) string {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	if e, ok := byHandle[h]; ok {
		return e.Name
	}
	return ""
}

// HandleOf recovers the Handle of a function published by Publish or Bind.
// Any other value reports false.
func HandleOf(lv lua.LValue) (Handle, bool) {
	f, ok := lv.(*lua.LFunction)
	if !ok || !f.IsG || len(f.Upvalues) == 0 {
		return 0, false
	}
	n, ok := f.Upvalues[0].Value().(lua.LNumber)
	if !ok {
		return 0, false
	}
	h := Handle(n)
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	if _, known := byHandle[h]; !known {
		return 0, false
	}
	return h, true
}

// Entries returns all registered functions sorted by name.
func Entries() []Entry {
	entriesMu.RLock()
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		result = append(result, *e)
	}
	entriesMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Bind returns a closure for the named function carrying its Handle as the
// first upvalue, or nil if name is not registered.
func Bind(L *lua.LState, name string) *lua.LFunction {
	e, ok := Lookup(name)
	if !ok {
		return nil
	}
	return L.NewClosure(e.Fn, lua.LNumber(e.Handle))
}

// Publish stores every registered function in the global table namespace,
// creating it if needed, and returns that table.
func Publish(L *lua.LState, namespace string) *lua.LTable {
	tbl, ok := L.GetGlobal(namespace).(*lua.LTable)
	if !ok {
		tbl = L.NewTable()
		L.SetGlobal(namespace, tbl)
	}
	for _, e := range Entries() {
		tbl.RawSetString(e.Name, L.NewClosure(e.Fn, lua.LNumber(e.Handle)))
	}
	return tbl
}
