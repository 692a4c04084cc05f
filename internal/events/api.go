// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package events

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/structured"
)

// OpFunc handles one request. The returned map is sent as the reply; an
// error becomes the reply's "error" field.
type OpFunc func(request structured.Value) (structured.Value, error)

// Op is one operation of an API.
type Op struct {
	Name     string
	Desc     string
	Required []string
	Fn       OpFunc
}

// API is a named set of operations selected by the request's Key field.
type API struct {
	Name string
	Desc string
	Key  string

	mu  sync.RWMutex
	ops map[string]*Op
}

// NewAPI creates an API dispatching on the "op" field.
func NewAPI(name, desc string) *API {
	return &API{
		Name: name,
		Desc: desc,
		Key:  "op",
		ops:  make(map[string]*Op),
	}
}

// Add registers an operation. required names request keys that must be
// present for fn to be called.
func (a *API) Add(name, desc string, fn OpFunc, required ...string) *API {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops[name] = &Op{Name: name, Desc: desc, Required: required, Fn: fn}
	return a
}

// Ops returns the operations sorted by name.
func (a *API) Ops() []Op {
	a.mu.RLock()
	result := make([]Op, 0, len(a.ops))
	for _, op := range a.ops {
		result = append(result, *op)
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Describe returns the API's self-description as served by getAPI.
func (a *API) Describe() structured.Value {
	ops := structured.EmptyArray()
	for _, op := range a.Ops() {
		entry := structured.MapOf("name", op.Name, "desc", op.Desc)
		if len(op.Required) > 0 {
			req := structured.EmptyArray()
			for _, key := range op.Required {
				req.Append(structured.String(key))
			}
			entry.Set("required", req)
		}
		ops.Append(entry)
	}
	return structured.MapOf("name", a.Name, "desc", a.Desc, "key", a.Key, "ops", ops)
}

// Dispatch runs the operation named by request[Key] and returns the reply,
// which always is a map. Failures come back in the "error" field.
func (a *API) Dispatch(request structured.Value) structured.Value {
	opname := request.Get(a.Key).AsString()
	a.mu.RLock()
	op, ok := a.ops[opname]
	a.mu.RUnlock()
	if !ok {
		return errorReply(fmt.Errorf("%s has no %s %q", a.Name, a.Key, opname))
	}
	for _, key := range op.Required {
		if !request.Has(key) {
			return errorReply(fmt.Errorf("%s %q requires %q", a.Name, opname, key))
		}
	}
	reply, err := op.Fn(request)
	if err != nil {
		return errorReply(err)
	}
	if !reply.IsMap() {
		wrapped := structured.EmptyMap()
		if !reply.IsUndefined() {
			wrapped.Set("data", reply)
		}
		reply = wrapped
	}
	return reply
}

// Serve listens on the pump named after the API and posts each reply to the
// request's "reply" pump.
func (a *API) Serve(reg *Registry) (Connection, error) {
	return reg.Listen(a.Name, a.Name, func(request structured.Value) {
		SendReply(reg, a.Dispatch(request), request)
	})
}

func errorReply(err error) structured.Value {
	return structured.MapOf("error", err.Error())
}

// SendReply posts reply to request["reply"], echoing request["reqid"].
// Requests without a reply pump get no reply.
func SendReply(reg *Registry, reply, request structured.Value) {
	pump := request.Get("reply").AsString()
	if pump == "" {
		return
	}
	if request.Has("reqid") {
		reply = reply.Clone()
		reply.Set("reqid", request.Get("reqid"))
	}
	reg.Post(pump, reply)
}

// StripReqID returns a copy of v without its "reqid" field.
func StripReqID(v structured.Value) structured.Value {
	if !v.IsMap() || !v.Has("reqid") {
		return v
	}
	v = v.Clone()
	v.Delete("reqid")
	return v
}

// PostAndWait posts request on pump with a private reply pump and waits for
// the first reply without holding t's baton. The reply's reqid is stripped.
func PostAndWait(t *coro.Task, reg *Registry, pump string, request structured.Value) (structured.Value, error) {
	replyName := "reply-" + uuid.NewString()
	defer reg.Remove(replyName)

	replies := make(chan structured.Value, 1)
	if _, err := reg.Listen(replyName, "PostAndWait", func(reply structured.Value) {
		select {
		case replies <- reply:
		default:
		}
	}); err != nil {
		return structured.Value{}, err
	}

	request = request.Clone()
	if !request.IsMap() {
		return structured.Value{}, fmt.Errorf("request for %s must be a map, got %s", pump, request.Kind())
	}
	request.Set("reply", structured.String(replyName))
	if !request.Has("reqid") {
		request.Set("reqid", structured.Integer(1))
	}
	reg.Post(pump, request)

	var reply structured.Value
	err := t.Await(func(stop <-chan struct{}) error {
		select {
		case reply = <-replies:
			return nil
		case <-stop:
			return coro.ErrStopped
		}
	})
	if err != nil {
		return structured.Value{}, err
	}
	return StripReqID(reply), nil
}

// APIs is a set of APIs answered by getAPIs and getAPI.
type APIs struct {
	mu   sync.RWMutex
	apis map[string]*API
}

// NewAPIs creates an empty set.
func NewAPIs() *APIs {
	return &APIs{apis: make(map[string]*API)}
}

var (
	defaultAPIs     *APIs
	defaultAPIsOnce sync.Once
)

// DefaultAPIs returns the process-wide API set.
func DefaultAPIs() *APIs {
	defaultAPIsOnce.Do(func() {
		defaultAPIs = NewAPIs()
	})
	return defaultAPIs
}

// Register adds api. Names must be distinct.
func (s *APIs) Register(api *API) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apis[api.Name]; exists {
		return fmt.Errorf("API %q already registered", api.Name)
	}
	s.apis[api.Name] = api
	return nil
}

// Get returns the API called name.
func (s *APIs) Get(name string) (*API, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	api, ok := s.apis[name]
	return api, ok
}

// List returns a map of API name to {desc}, sorted by name.
func (s *APIs) List() structured.Value {
	s.mu.RLock()
	names := make([]string, 0, len(s.apis))
	for name := range s.apis {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	result := structured.EmptyMap()
	for _, name := range names {
		api, _ := s.Get(name)
		result.Set(name, structured.MapOf("desc", api.Desc))
	}
	return result
}
