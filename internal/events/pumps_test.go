// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package events

import (
	"errors"
	"testing"
	"time"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/structured"
)

func TestPumpDeliversInOrder(t *testing.T) {
	reg := NewRegistry()
	var got []int64
	conn, err := reg.Listen("numbers", "collector", func(v structured.Value) {
		got = append(got, v.AsInteger())
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		reg.Post("numbers", structured.Integer(i))
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", got)
	}

	if _, err := reg.Listen("numbers", "collector", func(structured.Value) {}); err == nil {
		t.Error("Listen() with duplicate listener name succeeded")
	}

	if !conn.Disconnect() {
		t.Error("Disconnect() = false, want true")
	}
	if conn.Connected() {
		t.Error("Connected() after Disconnect = true")
	}
	reg.Post("numbers", structured.Integer(4))
	if len(got) != 3 {
		t.Errorf("event delivered after Disconnect: %v", got)
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Obtain("b")
	reg.Obtain("a")
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v", names)
	}
	reg.Remove("a")
	if _, ok := reg.Find("a"); ok {
		t.Error("Find(a) after Remove succeeded")
	}
}

func TestQueuePop(t *testing.T) {
	q := NewQueue()
	if err := q.Push(Item{Pump: "p", Data: structured.String("x")}); err != nil {
		t.Fatal(err)
	}
	item, err := q.Pop(nil)
	if err != nil || item.Pump != "p" || item.Data.AsString() != "x" {
		t.Fatalf("Pop() = %+v, %v", item, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Pop() after Close = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wake Pop")
	}
	if err := q.Push(Item{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Push() after Close = %v, want ErrClosed", err)
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := NewQueue()
	q.Push(Item{Pump: "a"})
	q.Close()
	if item, err := q.Pop(nil); err != nil || item.Pump != "a" {
		t.Errorf("Pop() = %+v, %v; want queued item", item, err)
	}
	if _, err := q.Pop(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop() on drained queue = %v, want ErrClosed", err)
	}
}

func TestQueuePopStops(t *testing.T) {
	q := NewQueue()
	stop := make(chan struct{})
	close(stop)
	if _, err := q.Pop(stop); !errors.Is(err, coro.ErrStopped) {
		t.Errorf("Pop() = %v, want ErrStopped", err)
	}
}
