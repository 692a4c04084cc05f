// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package luamanager starts Lua scripts as scheduler tasks. Every entry
// point is asynchronous: results arrive through callbacks or a Future.
package luamanager

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/luastate"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

// ResultFunc receives (count, result) when a chunk completes, (-1, message)
// when it fails.
type ResultFunc func(count int, result structured.Value)

// FinishedFunc receives the last error text, "" if none, when a session is
// torn down.
type FinishedFunc func(lastError string)

// Config configures a Manager.
type Config struct {
	// Session is the template for every session the manager creates.
	Session luastate.Options
	// AutorunScript is run by RunScriptOnLogin, relative to DataDir.
	AutorunScript string
	DataDir       string
}

// Manager launches scripts on a scheduler and tracks the running ones.
type Manager struct {
	sched *coro.Scheduler
	cfg   Config

	mu      sync.Mutex
	scripts map[string]string
	busy    map[*luastate.Session]chan struct{}
}

// New creates a manager launching tasks on sched.
func New(sched *coro.Scheduler, cfg Config) *Manager {
	if cfg.Session.Pumps == nil {
		cfg.Session.Pumps = events.Default()
	}
	if cfg.Session.APIs == nil {
		cfg.Session.APIs = events.DefaultAPIs()
	}
	return &Manager{
		sched:   sched,
		cfg:     cfg,
		scripts: make(map[string]string),
		busy:    make(map[*luastate.Session]chan struct{}),
	}
}

// Scheduler returns the scheduler scripts run on.
func (m *Manager) Scheduler() *coro.Scheduler { return m.sched }

// Pumps returns the event registry sessions use.
func (m *Manager) Pumps() *events.Registry { return m.cfg.Session.Pumps }

// NewSession creates a session from the template. finished may be nil.
func (m *Manager) NewSession(name string, finished FinishedFunc) *luastate.Session {
	opts := m.cfg.Session
	opts.Name = name
	if finished != nil {
		opts.OnFinished = finished
	}
	return luastate.New(opts)
}

// Describe abbreviates a chunk to its first line, at most 40 characters,
// for use as its description.
func Describe(chunk string) string {
	short := chunk
	if eol := strings.IndexAny(short, "\r\n"); eol >= 0 {
		short = short[:eol]
	}
	if len(short) > 40 {
		short = short[:40] + "..."
	}
	return "lua: " + short
}

// RunScriptFile runs the file at path in a fresh session on a new task and
// returns the task name. resultCb gets the chunk's result; finishedCb fires
// once when the session closes. Either may be nil.
func (m *Manager) RunScriptFile(path string, resultCb ResultFunc, finishedCb FinishedFunc) string {
	return m.sched.Launch(path, func(task *coro.Task) error {
		defer m.observe(task.Name(), path)()

		if _, err := os.Stat(path); err != nil {
			msg := fmt.Sprintf("unable to open script file '%s'", path)
			util.Logger.Warn(msg, "error", err)
			if resultCb != nil {
				resultCb(-1, structured.String(msg))
			}
			return nil
		}

		s := m.NewSession(task.Name(), finishedCb)
		defer s.Close()
		count, result := s.ExprFile(task, path)
		if resultCb != nil {
			resultCb(count, result)
		}
		return nil
	})
}

// StartScriptFile is RunScriptFile returning a Future for the result.
func (m *Manager) StartScriptFile(path string) *Future {
	f := newFuture()
	m.RunScriptFile(path, f.set, nil)
	return f
}

// WaitScriptFile runs path and waits for its result. task may be nil when
// called from outside the scheduler.
func (m *Manager) WaitScriptFile(task *coro.Task, path string) (int, structured.Value) {
	return m.StartScriptFile(path).Await(task)
}

// RunScriptLine runs chunk in the existing session s on a new task. Chunks
// on one session run one at a time, in launch order.
func (m *Manager) RunScriptLine(s *luastate.Session, chunk string, cb ResultFunc) string {
	desc := Describe(chunk)
	return m.sched.Launch(desc, func(task *coro.Task) error {
		if err := m.acquire(task, s); err != nil {
			if cb != nil {
				cb(-1, structured.String(err.Error()))
			}
			return err
		}
		defer m.release(s)

		count, result := s.Evaluate(task, desc, chunk)
		if cb != nil {
			cb(count, result)
		}
		return nil
	})
}

// RunScriptLineNew runs chunk in a fresh session that closes afterwards.
func (m *Manager) RunScriptLineNew(chunk string, resultCb ResultFunc, finishedCb FinishedFunc) string {
	desc := Describe(chunk)
	return m.sched.Launch(desc, func(task *coro.Task) error {
		s := m.NewSession(task.Name(), finishedCb)
		defer s.Close()
		count, result := s.Evaluate(task, desc, chunk)
		if resultCb != nil {
			resultCb(count, result)
		}
		return nil
	})
}

// StartScriptLine is RunScriptLine returning a Future for the result.
func (m *Manager) StartScriptLine(s *luastate.Session, chunk string) *Future {
	f := newFuture()
	m.RunScriptLine(s, chunk, f.set)
	return f
}

// WaitScriptLine runs chunk in s and waits for its result.
func (m *Manager) WaitScriptLine(task *coro.Task, s *luastate.Session, chunk string) (int, structured.Value) {
	return m.StartScriptLine(s, chunk).Await(task)
}

// RunScriptOnLogin runs the configured autorun script, if it exists. It
// reports whether a script was launched.
func (m *Manager) RunScriptOnLogin() bool {
	name := m.cfg.AutorunScript
	if name == "" {
		util.Debug("autorun script name wasn't set")
		return false
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.cfg.DataDir, name)
	}
	if _, err := os.Stat(path); err != nil {
		util.Debug("autorun script not found", "path", path)
		return false
	}
	m.RunScriptFile(path, nil, nil)
	return true
}

// acquire waits, without holding the baton, until s is free.
func (m *Manager) acquire(task *coro.Task, s *luastate.Session) error {
	m.mu.Lock()
	sem, ok := m.busy[s]
	if !ok {
		sem = make(chan struct{}, 1)
		m.busy[s] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	default:
	}
	return task.Await(func(stop <-chan struct{}) error {
		select {
		case sem <- struct{}{}:
			return nil
		case <-stop:
			return coro.ErrStopped
		}
	})
}

func (m *Manager) release(s *luastate.Session) {
	m.mu.Lock()
	sem := m.busy[s]
	m.mu.Unlock()
	<-sem
}

// Forget drops bookkeeping for a session the caller has closed.
func (m *Manager) Forget(s *luastate.Session) {
	m.mu.Lock()
	delete(m.busy, s)
	m.mu.Unlock()
}

// observe records a running script file until the returned func is called.
func (m *Manager) observe(task, path string) func() {
	m.mu.Lock()
	m.scripts[task] = path
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.scripts, task)
		m.mu.Unlock()
	}
}

// ScriptNames maps task name to file for every running script file.
func (m *Manager) ScriptNames() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(m.scripts))
	for task, path := range m.scripts {
		result[task] = path
	}
	return result
}

// API returns the "scripts" event API: op "list" replies with the running
// script files keyed by task name.
func (m *Manager) API() *events.API {
	return events.NewAPI("scripts", "Inspect running Lua scripts").
		Add("list", "list running script files as {scripts = {task = path}}", func(structured.Value) (structured.Value, error) {
			names := m.ScriptNames()
			tasks := make([]string, 0, len(names))
			for task := range names {
				tasks = append(tasks, task)
			}
			sort.Strings(tasks)
			list := structured.EmptyMap()
			for _, task := range tasks {
				list.Set(task, structured.String(names[task]))
			}
			return structured.MapOf("scripts", list), nil
		})
}

// InstallLibrary copies the files of lib into dir, keeping any file that
// already exists there so local edits survive upgrades.
func InstallLibrary(lib fs.FS, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create library dir: %w", err)
	}
	return fs.WalkDir(lib, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		data, err := fs.ReadFile(lib, path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
