// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package events implements named event pumps: a process-wide set of
// channels that host components and scripts post structured values to.
// Delivery is synchronous; Post calls every listener before returning.
package events

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aplane-algo/luahost/internal/structured"
)

// Handler receives one event posted on a pump.
type Handler func(event structured.Value)

// Registry owns a set of pumps keyed by name.
type Registry struct {
	mu    sync.Mutex
	pumps map[string]*Pump
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pumps: make(map[string]*Pump)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Obtain returns the pump called name, creating it on first use.
func (r *Registry) Obtain(name string) *Pump {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pumps[name]
	if !ok {
		p = &Pump{name: name, listeners: make(map[string]Handler)}
		r.pumps[name] = p
	}
	return p
}

// Find returns the pump called name if it exists.
func (r *Registry) Find(name string) (*Pump, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pumps[name]
	return p, ok
}

// Remove forgets the pump called name. Existing connections become inert.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	p, ok := r.pumps[name]
	delete(r.pumps, name)
	r.mu.Unlock()
	if ok {
		p.clear()
	}
}

// Post delivers event to every listener on the named pump.
func (r *Registry) Post(name string, event structured.Value) {
	r.Obtain(name).Post(event)
}

// Listen attaches h to the named pump under listener.
func (r *Registry) Listen(name, listener string, h Handler) (Connection, error) {
	return r.Obtain(name).Listen(listener, h)
}

// Names lists every pump sorted by name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.pumps))
	for name := range r.pumps {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Pump is a named channel with a set of named listeners.
type Pump struct {
	name      string
	mu        sync.Mutex
	listeners map[string]Handler
	order     []string
}

// Name returns the pump name.
func (p *Pump) Name() string {
	return p.name
}

// Listen attaches h under the distinct listener name.
func (p *Pump) Listen(listener string, h Handler) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.listeners[listener]; exists {
		return Connection{}, fmt.Errorf("pump %q already has listener %q", p.name, listener)
	}
	p.listeners[listener] = h
	p.order = append(p.order, listener)
	return Connection{pump: p, listener: listener}, nil
}

// Listeners returns listener names in attach order.
func (p *Pump) Listeners() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Post calls every listener with event, in attach order. Listeners may
// attach or detach during delivery; the change applies to the next Post.
func (p *Pump) Post(event structured.Value) {
	p.mu.Lock()
	handlers := make([]Handler, 0, len(p.order))
	for _, name := range p.order {
		handlers = append(handlers, p.listeners[name])
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (p *Pump) disconnect(listener string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.listeners[listener]; !ok {
		return false
	}
	delete(p.listeners, listener)
	for i, name := range p.order {
		if name == listener {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *Pump) clear() {
	p.mu.Lock()
	p.listeners = make(map[string]Handler)
	p.order = nil
	p.mu.Unlock()
}

// Connection is a listener's attachment to a pump.
type Connection struct {
	pump     *Pump
	listener string
}

// Pump returns the connected pump name.
func (c Connection) Pump() string {
	if c.pump == nil {
		return ""
	}
	return c.pump.name
}

// Connected reports whether the listener is still attached.
func (c Connection) Connected() bool {
	if c.pump == nil {
		return false
	}
	c.pump.mu.Lock()
	defer c.pump.mu.Unlock()
	_, ok := c.pump.listeners[c.listener]
	return ok
}

// Disconnect detaches the listener. It reports whether it was attached.
func (c Connection) Disconnect() bool {
	if c.pump == nil {
		return false
	}
	return c.pump.disconnect(c.listener)
}
