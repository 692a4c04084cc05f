// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/luabridge"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

// fiberModule is the module stem whose run() is called after a chunk that
// required it.
const fiberModule = "fiber"

// Evaluate compiles and runs text as one chunk on task, which may be nil.
// It returns the number of values the chunk returned and those values: none
// is Undefined, one is that value, several are an Array. On failure it
// returns (-1, message) and LastError holds the details.
func (s *Session) Evaluate(task *coro.Task, desc, text string) (int, structured.Value) {
	switch s.state {
	case Closed:
		return -1, structured.String("session is closed")
	case Faulted:
		return -1, structured.String(s.lastErr.Message)
	}

	s.task = task
	s.fatal = nil
	s.moduleErr = ""
	clear(s.loading)
	s.guard.reset(task)
	s.state = Running
	defer func() {
		s.task = nil
		if s.state == Running {
			s.state = Ready
		}
	}()

	L := s.L
	L.SetTop(0)
	L.SetContext(s.guard)

	fn, err := L.Load(strings.NewReader(text), desc)
	if err != nil {
		return s.fail(KindCompile, desc, errorMessage(err))
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(0)
		msg := errorMessage(err)
		return s.fail(s.classify(msg), desc, msg)
	}

	count := L.GetTop()
	util.Logger.Info(desc+" done", "results", count)
	result, err := s.harvest(count)
	if err != nil {
		util.Logger.Warn(desc+" error converting result", "error", err)
		kind := KindConversion
		if errors.Is(err, luabridge.ErrStackOverflow) {
			kind = KindFatal
		}
		// Start over from a clean VM, as after any fault outside pcall.
		s.initialize()
		return s.fail(kind, desc, "LuaError: "+err.Error())
	}
	L.SetTop(0)

	if err := s.runFiber(desc); err != nil {
		msg := errorMessage(err)
		return s.fail(s.classify(msg), desc, msg)
	}
	return count, result
}

// ExprFile runs the file at path as a chunk named by its path.
func (s *Session) ExprFile(task *coro.Task, path string) (int, structured.Value) {
	text, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("unable to open script file '%s'", path)
		util.Logger.Warn(msg, "error", err)
		return -1, structured.String(msg)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return s.Evaluate(task, path, string(text))
}

func (s *Session) harvest(count int) (structured.Value, error) {
	lim := s.opts.Limits.Bridge
	switch count {
	case 0:
		return structured.Undefined(), nil
	case 1:
		return lim.ToValue(s.L.Get(1))
	}
	result := structured.EmptyArray()
	for i := 1; i <= count; i++ {
		v, err := lim.ToValue(s.L.Get(i))
		if err != nil {
			return structured.Value{}, fmt.Errorf("result %d: %w", i, err)
		}
		result.Append(v)
	}
	return result, nil
}

// runFiber calls fiber.run() if the chunk required a module named fiber, so
// fibers the chunk launched finish before the chunk is reported done.
func (s *Session) runFiber(desc string) error {
	var module lua.LValue = lua.LNil
	modules(s.L).ForEach(func(k, v lua.LValue) {
		if module != lua.LNil {
			return
		}
		path, ok := k.(lua.LString)
		if !ok {
			return
		}
		base := filepath.Base(string(path))
		if strings.TrimSuffix(base, filepath.Ext(base)) == fiberModule {
			module = v
		}
	})
	tbl, ok := module.(*lua.LTable)
	if !ok {
		return nil
	}
	run, ok := tbl.RawGetString("run").(*lua.LFunction)
	if !ok {
		return nil
	}
	util.Logger.Info(desc + " p.s. fiber.run()")
	s.L.Push(run)
	if err := s.L.PCall(0, 0, nil); err != nil {
		util.Logger.Warn(desc+" p.s. fiber.run() error", "error", errorMessage(err))
		return err
	}
	util.Logger.Info(desc + " p.s. done.")
	return nil
}

// classify picks the kind of a failed protected call from its error
// message. A require() failure the script caught does not count.
func (s *Session) classify(msg string) ErrorKind {
	switch {
	case s.fatal != nil:
		return KindFatal
	case errors.Is(s.guard.aborted(), ErrRunaway):
		return KindRunaway
	case s.guard.aborted() != nil:
		return KindCancelled
	case s.moduleErr != "" && strings.Contains(msg, s.moduleErr):
		return KindModule
	}
	return KindRuntime
}

func (s *Session) fail(kind ErrorKind, desc, msg string) (int, structured.Value) {
	if kind == KindModule && msg == "" {
		msg = s.moduleErr
	}
	s.lastErr = &ScriptError{Kind: kind, Desc: desc, Message: msg}
	util.Logger.Warn(desc+" error", "kind", kind.String(), "error", msg)
	if kind == KindFatal {
		s.state = Faulted
	}
	return -1, structured.String(msg)
}

// stop unwinds the running chunk after a suspend point observed err.
// No further Lua code runs on this chunk: the guard fails every thread at
// its next instruction even if the script catches this error.
func (s *Session) stop(L *lua.LState, err error) {
	if errors.Is(err, coro.ErrStopped) {
		s.guard.abort(err)
	}
	L.RaiseError("%s", err.Error())
}
