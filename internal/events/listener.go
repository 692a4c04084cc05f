// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

// QueueMax bounds a Listener's queue. Events arriving while the queue is
// full are discarded with a warning so a stalled script cannot grow it
// without limit.
const QueueMax = 1000

// Listener connects one script session to the pump registry. Events for the
// session arrive on its reply pump, and on any pump it was asked to listen
// to, and wait in its queue until the script fetches them. Requests posted on
// its command pump manage those subscriptions.
type Listener struct {
	reg     *Registry
	apis    *APIs
	reply   string
	command string
	queue   *Queue

	mu      sync.Mutex
	conns   map[string]Connection
	closed  bool
	dropped int
}

// NewListener creates a listener with freshly named reply and command pumps.
// apis answers getAPIs and getAPI; nil uses DefaultAPIs.
func NewListener(reg *Registry, apis *APIs) (*Listener, error) {
	if apis == nil {
		apis = DefaultAPIs()
	}
	id := uuid.NewString()
	l := &Listener{
		reg:     reg,
		apis:    apis,
		reply:   "LuaListener-" + id,
		command: "LuaListener-" + id + "-command",
		queue:   NewQueue(),
		conns:   make(map[string]Connection),
	}

	replyConn, err := reg.Listen(l.reply, l.reply, func(data structured.Value) {
		l.queueEvent(l.reply, data)
	})
	if err != nil {
		return nil, err
	}
	l.conns[l.reply] = replyConn

	if _, err := reg.Listen(l.command, l.reply, l.handleCommand); err != nil {
		replyConn.Disconnect()
		return nil, err
	}
	return l, nil
}

func (l *Listener) String() string {
	return fmt.Sprintf("LuaListener(%s, %s)", l.reply, l.command)
}

// ReplyPump is the pump a script receives replies on.
func (l *Listener) ReplyPump() string { return l.reply }

// CommandPump accepts listen, stoplistening, ping, getAPIs and getAPI.
func (l *Listener) CommandPump() string { return l.command }

// Queue exposes the pending event queue.
func (l *Listener) Queue() *Queue { return l.queue }

// Dropped counts events discarded because the queue was full.
func (l *Listener) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Next blocks for the next (pump, data) pair. See Queue.Pop.
func (l *Listener) Next(stop <-chan struct{}) (Item, error) {
	return l.queue.Pop(stop)
}

func (l *Listener) queueEvent(pump string, data structured.Value) {
	if size := l.queue.Len(); size >= QueueMax {
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		util.Logger.Warn("listener queue full, discarding event",
			"listener", l.reply, "limit", QueueMax, "size", size, "pump", pump)
		return
	}
	if err := l.queue.Push(Item{Pump: pump, Data: data}); err != nil {
		util.Debug("event after listener close", "listener", l.reply, "pump", pump)
	}
}

// ListenTo queues every event posted on source.
func (l *Listener) ListenTo(source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.conns[source]; ok {
		return nil
	}
	conn, err := l.reg.Listen(source, l.reply, func(data structured.Value) {
		l.queueEvent(source, data)
	})
	if err != nil {
		return err
	}
	l.conns[source] = conn
	return nil
}

// StopListening undoes ListenTo. It reports whether source was connected.
func (l *Listener) StopListening(source string) bool {
	l.mu.Lock()
	conn, ok := l.conns[source]
	if ok && source != l.reply {
		delete(l.conns, source)
	}
	l.mu.Unlock()
	if !ok || source == l.reply {
		return false
	}
	return conn.Disconnect()
}

func (l *Listener) handleCommand(request structured.Value) {
	SendReply(l.reg, l.commandReply(request), request)
}

func (l *Listener) commandReply(request structured.Value) structured.Value {
	switch op := request.Get("op").AsString(); op {
	case "ping":
		return structured.EmptyMap()
	case "listen":
		source := request.Get("source").AsString()
		if source == "" {
			return errorReply(fmt.Errorf("listen requires \"source\""))
		}
		if err := l.ListenTo(source); err != nil {
			return errorReply(err)
		}
		return structured.MapOf("status", true)
	case "stoplistening":
		source := request.Get("source").AsString()
		if source == "" {
			return errorReply(fmt.Errorf("stoplistening requires \"source\""))
		}
		return structured.MapOf("status", l.StopListening(source))
	case "getAPIs":
		return l.apis.List()
	case "getAPI":
		name := request.Get("api").AsString()
		api, ok := l.apis.Get(name)
		if !ok {
			return errorReply(fmt.Errorf("no such API %q", name))
		}
		return api.Describe()
	default:
		return errorReply(fmt.Errorf("%s has no op %q", l.command, op))
	}
}

// Close detaches every connection, removes the session pumps and closes the
// queue so a blocked Next returns.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conns := l.conns
	l.conns = make(map[string]Connection)
	l.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	l.reg.Remove(l.reply)
	l.reg.Remove(l.command)
	l.queue.Close()
}
