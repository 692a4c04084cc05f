// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/luabridge"
	"github.com/aplane-algo/luahost/internal/luafunc"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

func init() {
	luafunc.Register("print_debug", printDebug, "print_debug(args...): DEBUG level logging")
	luafunc.Register("print_info", printInfo, "print_info(args...): INFO level logging")
	luafunc.Register("print_warning", printWarning, "print_warning(args...): WARNING level logging")
	luafunc.Register("post_on", postOn, "post_on(pumpname, data): post specified data to specified event pump")
	luafunc.Register("get_event_pumps", getEventPumps,
		"get_event_pumps():\n"+
			"Returns replypump, commandpump: names of event pumps specific to this chunk.\n"+
			"Events posted to replypump are queued for get_event_next().\n"+
			"post_on(commandpump, ...) to engage API operations (see api_help()).")
	luafunc.Register("get_event_next", getEventNext,
		"get_event_next():\n"+
			"Returns the next (pumpname, data) pair from the replypump whose name\n"+
			"is returned by get_event_pumps(). Blocks the calling chunk until an\n"+
			"event becomes available.")
	luafunc.Register("sleep", sleep, "sleep(seconds): pause the running coroutine")
	luafunc.Register("require", luaRequire, "require(module_name) : load module_name.lua from known places")
	luafunc.Register("help", help,
		"help(): list host Lua functions\n"+
			"help(function): show help string for specific function")
	luafunc.Register("api_help", apiHelp,
		"api_help(): list host event APIs\n"+
			"api_help(api): show help for specific api string name")
	luafunc.Register("source_path", sourcePath, "return the source path of the running Lua script")
	luafunc.Register("source_dir", sourceDir, "return the source directory of the running Lua script")
	luafunc.Register("abspath", abspath, "for given filesystem path relative to running script, return absolute path")
	luafunc.Register("check_stop", checkStop, "ensure that a Lua script responds to host shutdown")
}

// check converts argument n, remembering stack overflows as fatal.
func (s *Session) check(L *lua.LState, n int) structured.Value {
	v, err := s.opts.Limits.Bridge.ToValue(L.Get(n))
	if err != nil {
		if errors.Is(err, luabridge.ErrStackOverflow) {
			s.fatal = err
		}
		L.RaiseError("%s", err.Error())
	}
	return v
}

func (s *Session) push(L *lua.LState, v structured.Value) {
	s.opts.Limits.Bridge.Push(L, v)
}

// printMessage joins every argument through tostring(), prefixed with the
// caller's position, posts "LEVEL: message" on the output pump and
// suspends the task so output interleaves with other scripts.
func printMessage(L *lua.LState, level string) string {
	s := sessionOf(L)
	var sb strings.Builder
	sb.WriteString(L.Where(1))
	for i, top := 1, L.GetTop(); i <= top; i++ {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	L.SetTop(0)
	msg := sb.String()
	s.opts.Pumps.Post(OutputPump, structured.String(level+": "+msg))

	if err := s.task.Suspend(); err != nil {
		s.stop(L, err)
	}
	return msg
}

func logPrint(L *lua.LState, level slog.Level, name string) int {
	msg := printMessage(L, name)
	util.Logger.Log(context.Background(), level, msg, "source", "lua")
	return 0
}

func printDebug(L *lua.LState) int   { return logPrint(L, slog.LevelDebug, "DEBUG") }
func printInfo(L *lua.LState) int    { return logPrint(L, slog.LevelInfo, "INFO") }
func printWarning(L *lua.LState) int { return logPrint(L, slog.LevelWarn, "WARN") }

func postOn(L *lua.LState) int {
	s := sessionOf(L)
	pump := L.CheckString(1)
	data := s.check(L, 2)
	L.SetTop(0)
	util.Debug("post_on", "pump", pump, "data", data.String())
	s.opts.Pumps.Post(pump, data)
	return 0
}

func (s *Session) obtainListener(L *lua.LState) *events.Listener {
	l, err := s.Listener()
	if err != nil {
		L.RaiseError("cannot create event listener: %s", err.Error())
	}
	return l
}

func getEventPumps(L *lua.LState) int {
	l := sessionOf(L).obtainListener(L)
	L.Push(lua.LString(l.ReplyPump()))
	L.Push(lua.LString(l.CommandPump()))
	return 2
}

func getEventNext(L *lua.LState) int {
	s := sessionOf(L)
	l := s.obtainListener(L)

	var item events.Item
	prev := s.task.Status()
	s.task.SetStatus("get_event_next()")
	err := s.task.Await(func(stop <-chan struct{}) error {
		var err error
		item, err = l.Next(stop)
		return err
	})
	s.task.SetStatus(prev)
	if err != nil {
		// A closed queue means the host is shutting down.
		if errors.Is(err, events.ErrClosed) {
			err = coro.ErrStopped
		}
		s.stop(L, err)
	}
	L.Push(lua.LString(item.Pump))
	s.push(L, item.Data)
	s.guard.resetCounter()
	return 2
}

// maxSleepSeconds is the longest sleep a time.Duration can hold.
const maxSleepSeconds = float64(math.MaxInt64 / int64(time.Second))

func sleep(L *lua.LState) int {
	s := sessionOf(L)
	seconds := float64(L.OptNumber(1, 0))
	if math.IsNaN(seconds) || seconds < 0 {
		L.ArgError(1, "sleep time must not be negative")
	}
	seconds = min(seconds, maxSleepSeconds)
	L.SetTop(0)
	if err := s.task.Sleep(time.Duration(seconds * float64(time.Second))); err != nil {
		s.stop(L, err)
	}
	s.guard.resetCounter()
	return 0
}

func luaRequire(L *lua.LState) int {
	name := L.CheckString(1)
	L.SetTop(0)
	L.Push(sessionOf(L).require(L, name))
	return 1
}

func help(L *lua.LState) int {
	s := sessionOf(L)
	out := s.opts.Pumps.Obtain(OutputPump)
	top := L.GetTop()
	if top == 0 {
		for _, e := range luafunc.Entries() {
			out.Post(structured.String(e.Help))
		}
		return 0
	}
	for i := 1; i <= top; i++ {
		arg := fmt.Sprintf("<unknown %s>", L.Get(i).Type())
		switch v := L.Get(i).(type) {
		case lua.LString:
			arg = string(v)
		case *lua.LFunction:
			// A function value has no name of its own; published
			// functions carry a handle that names them.
			if h, ok := luafunc.HandleOf(v); ok {
				arg = luafunc.NameOf(h)
			}
		}
		if e, ok := luafunc.Lookup(arg); ok {
			out.Post(structured.String(e.Help))
		} else {
			out.Post(structured.String(arg + ": NOT FOUND"))
		}
	}
	L.SetTop(0)
	return 0
}

func apiHelp(L *lua.LState) int {
	s := sessionOf(L)
	var request structured.Value
	top := L.GetTop()
	if top > 0 {
		request = structured.MapOf("op", "getAPI", "api", L.CheckString(1))
	} else {
		request = structured.MapOf("op", "getAPIs")
	}
	L.SetTop(0)

	l := s.obtainListener(L)
	reply, err := events.PostAndWait(s.task, s.opts.Pumps, l.CommandPump(), request)
	if err != nil {
		s.stop(L, err)
	}
	out := s.opts.Pumps.Obtain(OutputPump)
	if reply.Has("error") {
		out.Post(reply.Get("error"))
		return 0
	}

	if top == 0 {
		for _, name := range reply.Keys() {
			out.Post(structured.String(fmt.Sprintf("==== %s:\n%s", name, reply.Get(name).Get("desc").AsString())))
		}
		return 0
	}
	out.Post(structured.String(fmt.Sprintf("%s:\n%s", reply.Get("name").AsString(), reply.Get("desc").AsString())))
	for _, op := range reply.Get("ops").Items() {
		var req strings.Builder
		if keys := op.Get("required").Items(); len(keys) > 0 {
			names := make([]string, 0, len(keys))
			for _, k := range keys {
				names = append(names, k.AsString())
			}
			fmt.Fprintf(&req, " (requires %s)", strings.Join(names, ", "))
		}
		out.Post(structured.String(fmt.Sprintf("---- %s == '%s'%s:\n%s",
			reply.Get("key").AsString(), op.Get("name").AsString(), req.String(), op.Get("desc").AsString())))
	}
	return 0
}

func sourcePath(L *lua.LState) int {
	L.Push(lua.LString(scriptPath(L)))
	return 1
}

func sourceDir(L *lua.LState) int {
	L.Push(lua.LString(filepath.Dir(scriptPath(L))))
	return 1
}

func abspath(L *lua.LState) int {
	rel := L.CheckString(1)
	L.SetTop(0)
	L.Push(lua.LString(filepath.Join(filepath.Dir(scriptPath(L)), rel)))
	return 1
}

func checkStop(L *lua.LState) int {
	s := sessionOf(L)
	if err := s.task.CheckStop(); err != nil {
		s.stop(L, err)
	}
	return 0
}
