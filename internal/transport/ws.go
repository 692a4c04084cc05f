// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
)

// WSClient is a websocket client for the pump gateway.
type WSClient struct {
	url      string
	encoding protocol.Encoding

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []protocol.Message
}

// NewWS creates a new websocket client (not yet connected). url is the
// gateway endpoint, e.g. ws://127.0.0.1:8765/pumps.
func NewWS(url string, encoding protocol.Encoding) *WSClient {
	return &WSClient{
		url:      url,
		encoding: encoding,
	}
}

// Dial connects to the gateway.
func (c *WSClient) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close closes the websocket connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
}

// SetReadDeadline sets a deadline for read operations.
func (c *WSClient) SetReadDeadline(d time.Duration) {
	if conn := c.current(); conn != nil {
		_ = conn.SetReadDeadline(time.Now().Add(d))
	}
}

// ClearReadDeadline removes any read deadline.
func (c *WSClient) ClearReadDeadline() {
	if conn := c.current(); conn != nil {
		_ = conn.SetReadDeadline(time.Time{})
	}
}

func (c *WSClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// WriteMessage sends m as a text frame (JSON) or binary frame (CBOR).
func (c *WSClient) WriteMessage(m protocol.Message) error {
	data, err := protocol.Encode(c.encoding, m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	kind := websocket.TextMessage
	if c.encoding == protocol.CBOR {
		kind = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(kind, data)
}

// ReadMessage reads one frame. The frame type decides its encoding.
func (c *WSClient) ReadMessage() (protocol.Message, error) {
	conn := c.current()
	if conn == nil {
		return protocol.Message{}, ErrNotConnected
	}
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, err
	}
	encoding := protocol.JSON
	if kind == websocket.BinaryMessage {
		encoding = protocol.CBOR
	}
	return protocol.Decode(encoding, data)
}

// Post sends data to a pump. The gateway does not acknowledge posts.
func (c *WSClient) Post(pump string, data structured.Value) error {
	return c.WriteMessage(protocol.Message{Op: protocol.OpPost, Pump: pump, Data: data})
}

// Listen subscribes to pump and waits for the confirmation. Events for
// other pumps that arrive meanwhile are kept for Next.
func (c *WSClient) Listen(pump string, timeout time.Duration) error {
	if err := c.WriteMessage(protocol.Message{Op: protocol.OpListen, Pump: pump}); err != nil {
		return err
	}
	c.SetReadDeadline(timeout)
	defer c.ClearReadDeadline()
	for {
		m, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to receive listen confirmation: %w", err)
		}
		switch {
		case m.IsEvent():
			c.mu.Lock()
			c.pending = append(c.pending, m)
			c.mu.Unlock()
		case m.Op == protocol.OpError:
			return fmt.Errorf("%w: %s", ErrRejected, m.Error)
		case m.Op == protocol.OpListening && m.Pump == pump:
			return nil
		}
	}
}

// Next returns the next forwarded event, skipping control frames other
// than errors.
func (c *WSClient) Next() (protocol.Message, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	for {
		m, err := c.ReadMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		if m.IsEvent() {
			return m, nil
		}
		if m.Op == protocol.OpError {
			return protocol.Message{}, fmt.Errorf("%w: %s", ErrRejected, m.Error)
		}
	}
}
