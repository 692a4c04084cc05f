// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luamanager

import (
	"sync"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/structured"
)

// Future delivers the result of a script started asynchronously.
type Future struct {
	once   sync.Once
	done   chan struct{}
	count  int
	result structured.Value
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) set(count int, result structured.Value) {
	f.once.Do(func() {
		f.count, f.result = count, result
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks the calling goroutine for the result. Do not call it from a
// scheduler task; use Await.
func (f *Future) Get() (int, structured.Value) {
	<-f.done
	return f.count, f.result
}

// Await waits for the result without holding task's baton. A nil task
// behaves like Get. If the scheduler stops first it returns (-1, message).
func (f *Future) Await(task *coro.Task) (int, structured.Value) {
	err := task.Await(func(stop <-chan struct{}) error {
		select {
		case <-f.done:
			return nil
		case <-stop:
			return coro.ErrStopped
		}
	})
	if err != nil {
		return -1, structured.String(err.Error())
	}
	return f.count, f.result
}
