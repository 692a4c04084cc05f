// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"context"
	"sync"
	"time"

	"github.com/aplane-algo/luahost/internal/coro"
)

// guard is the context installed on a session's VM and on every coroutine
// thread it creates. gopher-lua polls Done() before each instruction; every
// perInterrupt polls is one interrupt point, where the guard checks for
// shutdown, counts, and periodically suspends the running task.
//
// Done is only ever called from the goroutine running the chunk. The mutex
// guards the abort state, which context plumbing may read elsewhere.
type guard struct {
	task         *coro.Task
	max          int
	suspendEvery int
	perInterrupt int

	polls   int
	counter int

	mu      sync.Mutex
	done    chan struct{}
	err     error
	afters  map[int]func()
	afterID int
}

var _ context.Context = (*guard)(nil)

func newGuard(lim Limits) *guard {
	g := &guard{
		max:          lim.InterruptsMax,
		suspendEvery: lim.InterruptsSuspend,
		perInterrupt: lim.InstructionsPerInterrupt,
		done:         make(chan struct{}),
		afters:       make(map[int]func()),
	}
	if g.perInterrupt < 1 {
		g.perInterrupt = 1
	}
	if g.suspendEvery < 1 {
		g.suspendEvery = 1
	}
	return g
}

// reset prepares the guard for a new top-level chunk run by task.
func (g *guard) reset(task *coro.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.task = task
	g.polls = 0
	g.counter = 0
	if g.err != nil {
		g.done = make(chan struct{})
		g.err = nil
	}
	g.afters = make(map[int]func())
}

// resetCounter restarts the interrupt count after a voluntary wait.
func (g *guard) resetCounter() {
	g.counter = 0
}

func (g *guard) Deadline() (time.Time, bool) { return time.Time{}, false }

func (g *guard) Value(any) any { return nil }

func (g *guard) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *guard) Done() <-chan struct{} {
	g.mu.Lock()
	done, aborted := g.done, g.err != nil
	g.mu.Unlock()
	if aborted {
		return done
	}

	g.polls++
	if g.polls%g.perInterrupt == 0 {
		g.interrupt()
	}
	return done
}

func (g *guard) interrupt() {
	if err := g.task.CheckStop(); err != nil {
		g.abort(err)
		return
	}
	g.counter++
	if g.counter > g.max {
		g.abort(ErrRunaway)
		return
	}
	if g.counter%g.suspendEvery == 0 {
		if err := g.task.Suspend(); err != nil {
			g.abort(err)
		}
	}
}

// abort makes every thread using the guard raise err at its next instruction.
func (g *guard) abort(err error) {
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return
	}
	g.err = err
	close(g.done)
	afters := g.afters
	g.afters = make(map[int]func())
	g.mu.Unlock()

	for _, fn := range afters {
		fn()
	}
}

// aborted returns the abort cause, if any.
func (g *guard) aborted() error {
	return g.Err()
}

// AfterFunc lets context.WithCancel attach child contexts without starting
// a watcher goroutine.
func (g *guard) AfterFunc(f func()) func() bool {
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		go f()
		return func() bool { return false }
	}
	id := g.afterID
	g.afterID++
	g.afters[id] = f
	g.mu.Unlock()

	return func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.afters[id]; !ok {
			return false
		}
		delete(g.afters, id)
		return true
	}
}
