// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package events

import (
	"errors"
	"sync"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/structured"
)

// ErrClosed is returned by Pop once the queue is closed and drained, and by
// Push after Close.
var ErrClosed = errors.New("event queue closed")

// Item is one queued event.
type Item struct {
	Pump string
	Data structured.Value
}

// Queue is an unbounded FIFO of events. Bounds are enforced by producers.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	closed bool
	notify chan struct{}
}

// NewQueue creates an open, empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends item.
func (q *Queue) Push(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes any blocked Pop. Items already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// TryPop returns the front item without blocking.
func (q *Queue) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return item, true
}

// Pop blocks for the front item. It returns ErrClosed when the queue is
// closed and empty, and coro.ErrStopped if stop closes first.
func (q *Queue) Pop(stop <-chan struct{}) (Item, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}
		if q.Closed() {
			q.signal()
			return Item{}, ErrClosed
		}
		select {
		case <-q.notify:
		case <-stop:
			return Item{}, coro.ErrStopped
		}
	}
}
