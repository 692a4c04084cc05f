// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package coro runs host tasks cooperatively. Each task runs on its own
// goroutine but only the task holding the scheduler's baton executes; the
// others wait in a FIFO ready queue. A task gives up the baton at Suspend,
// Sleep and Await, so a blocking wait in one task never stalls another.
package coro

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aplane-algo/luahost/internal/util"
)

// ErrStopped is returned from suspend points once the scheduler is stopping.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler hands a single baton between its tasks.
type Scheduler struct {
	mu       sync.Mutex
	running  *Task
	ready    []*Task
	tasks    map[string]*Task
	stopping bool
	stopCh   chan struct{}
	onStop   []func()
	wg       sync.WaitGroup
}

// Task is one cooperatively scheduled unit of work. All methods are safe on a
// nil *Task and then behave as if no scheduler were involved.
type Task struct {
	name   string
	sched  *Scheduler
	wake   chan struct{}
	mu     sync.Mutex
	status string
}

// TaskInfo describes a live task.
type TaskInfo struct {
	Name   string
	Status string
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*Task),
		stopCh: make(chan struct{}),
	}
}

// Launch starts fn as a new task and returns the task's name, which is name
// made distinct from every live task. A panic in fn is logged and ends only
// that task.
func (s *Scheduler) Launch(name string, fn func(t *Task) error) string {
	s.mu.Lock()
	unique := name
	for i := 2; s.tasks[unique] != nil; i++ {
		unique = fmt.Sprintf("%s_%d", name, i)
	}
	t := &Task{
		name:   unique,
		sched:  s,
		wake:   make(chan struct{}, 1),
		status: "ready",
	}
	s.tasks[unique] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(t, fn)
	return unique
}

func (s *Scheduler) run(t *Task, fn func(t *Task) error) {
	defer s.wg.Done()
	s.acquire(t)
	defer func() {
		if r := recover(); r != nil {
			util.Logger.Error("task panicked", "task", t.name, "panic", r)
		}
		s.mu.Lock()
		delete(s.tasks, t.name)
		s.mu.Unlock()
		s.release(t)
	}()

	t.SetStatus("running")
	if err := fn(t); err != nil && !errors.Is(err, ErrStopped) {
		util.Logger.Warn("task failed", "task", t.name, "error", err)
	}
}

// acquire blocks until t holds the baton.
func (s *Scheduler) acquire(t *Task) {
	s.mu.Lock()
	if s.running == nil && len(s.ready) == 0 {
		s.running = t
		s.mu.Unlock()
		return
	}
	s.ready = append(s.ready, t)
	s.mu.Unlock()
	<-t.wake
}

// release passes the baton to the next ready task.
func (s *Scheduler) release(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != t {
		return
	}
	s.running = nil
	if len(s.ready) > 0 {
		next := s.ready[0]
		s.ready = s.ready[1:]
		s.running = next
		next.wake <- struct{}{}
	}
}

// yield moves t to the back of the ready queue and hands the baton to the
// front task. It returns immediately when nothing else is ready.
func (s *Scheduler) yield(t *Task) {
	s.mu.Lock()
	if s.running != t || len(s.ready) == 0 {
		s.mu.Unlock()
		return
	}
	next := s.ready[0]
	s.ready = append(s.ready[1:], t)
	s.running = next
	next.wake <- struct{}{}
	s.mu.Unlock()
	<-t.wake
}

// Stop asks every task to unwind. Suspend points return ErrStopped from now
// on. OnStop listeners run once, on the calling goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	listeners := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Stopping reports whether Stop has been called.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Done is closed when Stop is called.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopCh
}

// OnStop registers fn to run when the scheduler stops. If it is already
// stopping fn runs immediately.
func (s *Scheduler) OnStop(fn func()) {
	s.mu.Lock()
	if !s.stopping {
		s.onStop = append(s.onStop, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Wait blocks until every launched task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Tasks lists live tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	list := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, TaskInfo{Name: t.name, Status: t.Status()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Name returns the task's distinct name.
func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Scheduler returns the owning scheduler.
func (t *Task) Scheduler() *Scheduler {
	if t == nil {
		return nil
	}
	return t.sched
}

// SetStatus records a short human-readable status.
func (t *Task) SetStatus(status string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
}

// Status returns the last status set.
func (t *Task) Status() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// CheckStop returns ErrStopped if the scheduler is stopping.
func (t *Task) CheckStop() error {
	if t == nil {
		return nil
	}
	if t.sched.Stopping() {
		return ErrStopped
	}
	return nil
}

// Suspend lets every other ready task run once before t continues.
func (t *Task) Suspend() error {
	if t == nil {
		return nil
	}
	if err := t.CheckStop(); err != nil {
		return err
	}
	t.sched.yield(t)
	return t.CheckStop()
}

// Sleep releases the baton for at least d. It returns early with ErrStopped
// if the scheduler stops.
func (t *Task) Sleep(d time.Duration) error {
	if t == nil {
		time.Sleep(d)
		return nil
	}
	return t.Await(func(stop <-chan struct{}) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-stop:
			return ErrStopped
		}
	})
}

// Await runs a blocking wait without holding the baton. wait must return
// promptly once stop is closed.
func (t *Task) Await(wait func(stop <-chan struct{}) error) error {
	if t == nil {
		return wait(nil)
	}
	if err := t.CheckStop(); err != nil {
		return err
	}
	prev := t.Status()
	t.SetStatus("waiting")
	t.sched.release(t)
	err := wait(t.sched.stopCh)
	t.sched.acquire(t)
	t.SetStatus(prev)
	if err != nil {
		return err
	}
	return t.CheckStop()
}
