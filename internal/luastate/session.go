// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package luastate runs Lua chunks in an interpreter session: one gopher-lua
// VM with the host function registry published into it, a module resolver
// for require(), and a guard that keeps long-running chunks cooperative.
package luastate

import (
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/luabridge"
	"github.com/aplane-algo/luahost/internal/luafunc"
	"github.com/aplane-algo/luahost/internal/util"
)

// OutputPump carries print output and help text.
const OutputPump = "lua output"

const (
	sessionKey = "luahost.session"
	modulesKey = "_MODULES"
)

// State is a session's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	Faulted
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Limits holds the policy constants of a session.
type Limits struct {
	Bridge luabridge.Limits
	// InterruptsMax aborts a chunk after this many interrupt points without
	// a voluntary wait.
	InterruptsMax int
	// InterruptsSuspend suspends the task every this many interrupt points.
	InterruptsSuspend int
	// InstructionsPerInterrupt is the number of VM instructions between
	// interrupt points.
	InstructionsPerInterrupt int
	// RequireDepthMax bounds how many modules may be loading at once.
	RequireDepthMax int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		Bridge:                   luabridge.DefaultLimits(),
		InterruptsMax:            20000,
		InterruptsSuspend:        100,
		InstructionsPerInterrupt: 16,
		RequireDepthMax:          200,
	}
}

// withDefaults fills each zero field from DefaultLimits.
func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&l.Bridge.ArrayMax, def.Bridge.ArrayMax)
	fill(&l.Bridge.ArrayGapMax, def.Bridge.ArrayGapMax)
	fill(&l.Bridge.MaxDepth, def.Bridge.MaxDepth)
	fill(&l.InterruptsMax, def.InterruptsMax)
	fill(&l.InterruptsSuspend, def.InterruptsSuspend)
	fill(&l.InstructionsPerInterrupt, def.InstructionsPerInterrupt)
	fill(&l.RequireDepthMax, def.RequireDepthMax)
	return l
}

// Options configure a Session. Zero fields take defaults.
type Options struct {
	// Name identifies the session in logs.
	Name string
	// Namespace is the global table holding the host functions.
	Namespace string
	// LibraryPaths are searched by require() after the script's own
	// directory.
	LibraryPaths []string
	Limits       Limits
	Pumps        *events.Registry
	APIs         *events.APIs
	// OnFinished runs once from Close with the last error text, "" if none.
	OnFinished func(lastError string)
}

// Session owns one VM.
type Session struct {
	opts  Options
	L     *lua.LState
	state State
	guard *guard

	// task is the task running the current chunk, nil outside Evaluate.
	task     *coro.Task
	listener *events.Listener
	lastErr  *ScriptError
	// fatal records a conversion fault raised inside a host function.
	fatal error
	// moduleErr is the last require() failure message.
	moduleErr string
	// loading holds the paths of modules whose chunks are running.
	loading map[string]bool

	closeOnce sync.Once
}

// New creates a session with a ready VM.
func New(opts Options) *Session {
	if opts.Namespace == "" {
		opts.Namespace = "LL"
	}
	opts.Limits = opts.Limits.withDefaults()
	if opts.Pumps == nil {
		opts.Pumps = events.Default()
	}
	if opts.APIs == nil {
		opts.APIs = events.DefaultAPIs()
	}
	s := &Session{
		opts:    opts,
		guard:   newGuard(opts.Limits),
		loading: make(map[string]bool),
	}
	s.initialize()
	return s
}

var stdlibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.OsLibName, lua.OpenOs},
	{lua.CoroutineLibName, lua.OpenCoroutine},
	{lua.DebugLibName, lua.OpenDebug},
}

// Scripts may not end the host process or run commands.
var osRemoved = []string{"exit", "execute", "remove", "rename", "setenv", "setlocale", "tmpname"}

// coroutine.wrap rebuilt on top of the wrapped coroutine.create so that
// wrapped coroutines share the guard too.
const coroutinePrelude = `
local create, resume = coroutine.create, coroutine.resume
local function pass(ok, ...)
    if not ok then error((...), 2) end
    return ...
end
coroutine.wrap = function(f)
    local co = create(f)
    return function(...) return pass(resume(co, ...)) end
end
`

// initialize builds a fresh VM, discarding any previous one.
func (s *Session) initialize() {
	if s.L != nil {
		s.L.Close()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range stdlibs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	if oslib, ok := L.GetGlobal(lua.OsLibName).(*lua.LTable); ok {
		for _, name := range osRemoved {
			oslib.RawSetString(name, lua.LNil)
		}
	}

	luafunc.Publish(L, s.opts.Namespace)
	// print goes to the log; require needs no prefix.
	L.SetGlobal("print", luafunc.Bind(L, "print_info"))
	L.SetGlobal("require", luafunc.Bind(L, "require"))

	ud := L.NewUserData()
	ud.Value = s
	L.G.Registry.RawSetString(sessionKey, ud)
	L.G.Registry.RawSetString(modulesKey, L.NewTable())

	s.wrapCoroutines(L)
	s.L = L
	s.state = Ready
}

func (s *Session) wrapCoroutines(L *lua.LState) {
	co, ok := L.GetGlobal(lua.CoroutineLibName).(*lua.LTable)
	if !ok {
		return
	}
	create, ok := co.RawGetString("create").(*lua.LFunction)
	if !ok {
		return
	}
	co.RawSetString("create", L.NewFunction(func(L *lua.LState) int {
		L.Push(create)
		L.Push(L.Get(1))
		L.Call(1, 1)
		if th, ok := L.Get(-1).(*lua.LState); ok && L.Context() != nil {
			th.SetContext(s.guard)
		}
		return 1
	}))
	if err := L.DoString(coroutinePrelude); err != nil {
		util.Logger.Error("coroutine prelude failed", "error", err)
	}
}

// sessionOf returns the session owning L, which may be a coroutine thread.
func sessionOf(L *lua.LState) *Session {
	ud, ok := L.G.Registry.RawGetString(sessionKey).(*lua.LUserData)
	if !ok {
		L.RaiseError("no session attached to this Lua state")
	}
	s, ok := ud.Value.(*Session)
	if !ok {
		L.RaiseError("no session attached to this Lua state")
	}
	return s
}

// modules returns this VM's module cache.
func modules(L *lua.LState) *lua.LTable {
	tbl, ok := L.G.Registry.RawGetString(modulesKey).(*lua.LTable)
	if !ok {
		tbl = L.NewTable()
		L.G.Registry.RawSetString(modulesKey, tbl)
	}
	return tbl
}

// Name returns the session name.
func (s *Session) Name() string { return s.opts.Name }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Lua exposes the VM. It is replaced when the session reinitializes.
func (s *Session) Lua() *lua.LState { return s.L }

// LastError returns the last recorded failure, or nil.
func (s *Session) LastError() *ScriptError { return s.lastErr }

// Pumps returns the registry the session posts to.
func (s *Session) Pumps() *events.Registry { return s.opts.Pumps }

// Listener returns the session's event listener, creating it on first use.
func (s *Session) Listener() (*events.Listener, error) {
	if s.listener != nil {
		return s.listener, nil
	}
	l, err := events.NewListener(s.opts.Pumps, s.opts.APIs)
	if err != nil {
		return nil, err
	}
	util.Debug("lua listener created", "session", s.opts.Name, "listener", l.String())
	s.listener = l
	return l, nil
}

// Close detaches the listener, closes the VM and runs OnFinished once with
// the last error text.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
			s.listener = nil
		}
		if s.L != nil {
			s.L.Close()
		}
		s.state = Closed
		if s.opts.OnFinished != nil {
			msg := ""
			if s.lastErr != nil {
				msg = s.lastErr.Message
			}
			s.opts.OnFinished(msg)
		}
	})
}
