// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package gateway exposes event pumps over a websocket so that processes
// outside the host can post to pumps and listen on them.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

// Path is the websocket endpoint.
const Path = "/pumps"

// OutboxMax bounds the frames waiting to be written to one client. Events
// beyond it are dropped with a warning.
const OutboxMax = 1000

// Server bridges a pump registry to websocket clients.
type Server struct {
	pumps    *events.Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a gateway for pumps.
func New(pumps *events.Registry) *Server {
	return &Server{
		pumps: pumps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns an http.Handler serving Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Logger.Warn("gateway upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &client{
		server: s,
		conn:   conn,
		name:   "gateway-" + uuid.NewString(),
		outbox: make(chan frame, OutboxMax),
		conns:  make(map[string]events.Connection),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	util.Debug("gateway client connected", "client", c.name, "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
	c.close()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	util.Debug("gateway client disconnected", "client", c.name)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ListenAndServe serves the gateway on addr until ctx ends. ready, if not
// nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()
	util.Logger.Info("gateway listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr())
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// closeAll drops every client. Hijacked websocket connections are not
// closed by http.Server.Shutdown.
func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

type frame struct {
	encoding protocol.Encoding
	msg      protocol.Message
}

type client struct {
	server *Server
	conn   *websocket.Conn
	name   string
	outbox chan frame

	mu     sync.Mutex
	conns  map[string]events.Connection
	closed bool
	done   chan struct{}
}

func (c *client) readLoop() {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.Debug("gateway read ended", "client", c.name, "error", err)
			}
			return
		}
		encoding := protocol.JSON
		if kind == websocket.BinaryMessage {
			encoding = protocol.CBOR
		}
		m, err := protocol.Decode(encoding, data)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			c.send(encoding, protocol.Message{Op: protocol.OpError, Error: err.Error()})
			continue
		}
		c.handle(encoding, m)
	}
}

func (c *client) handle(encoding protocol.Encoding, m protocol.Message) {
	switch m.Op {
	case protocol.OpPost:
		util.Debug("gateway post", "client", c.name, "pump", m.Pump)
		c.server.pumps.Post(m.Pump, m.Data)

	case protocol.OpListen:
		c.mu.Lock()
		_, already := c.conns[m.Pump]
		c.mu.Unlock()
		if !already {
			pump := m.Pump
			conn, err := c.server.pumps.Listen(pump, c.name, func(data structured.Value) {
				c.send(encoding, protocol.Message{Pump: pump, Data: data})
			})
			if err != nil {
				c.send(encoding, protocol.Message{Op: protocol.OpError, Pump: pump, Error: err.Error()})
				return
			}
			c.mu.Lock()
			c.conns[pump] = conn
			c.mu.Unlock()
		}
		c.send(encoding, protocol.Message{Op: protocol.OpListening, Pump: m.Pump})

	case protocol.OpStopListening:
		c.mu.Lock()
		conn, ok := c.conns[m.Pump]
		delete(c.conns, m.Pump)
		c.mu.Unlock()
		if ok {
			conn.Disconnect()
		}
	}
}

// send queues a frame for the write loop without blocking the poster.
func (c *client) send(encoding protocol.Encoding, m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.outbox <- frame{encoding: encoding, msg: m}:
	default:
		util.Logger.Warn("gateway client outbox full, dropping frame", "client", c.name, "pump", m.Pump)
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case f := <-c.outbox:
			data, err := protocol.Encode(f.encoding, f.msg)
			if err != nil {
				util.Logger.Warn("gateway encode failed", "client", c.name, "error", err)
				continue
			}
			kind := websocket.TextMessage
			if f.encoding == protocol.CBOR {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
				util.Debug("gateway write failed", "client", c.name, "error", err)
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close detaches the client from every pump and stops the write loop.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	close(c.done)
	_ = c.conn.Close()
}
