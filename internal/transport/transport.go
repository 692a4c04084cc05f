// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package transport is the client side of the pump gateway.
package transport

import (
	"context"
	"time"

	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
)

// Transport defines the interface for gateway client connections.
type Transport interface {
	// Dial establishes the connection.
	Dial(ctx context.Context) error

	// Close closes the connection.
	Close()

	// SetReadDeadline sets a deadline for read operations.
	SetReadDeadline(d time.Duration)

	// ClearReadDeadline removes any read deadline.
	ClearReadDeadline()

	// WriteMessage sends one frame.
	WriteMessage(m protocol.Message) error

	// ReadMessage reads one frame.
	ReadMessage() (protocol.Message, error)

	// Post sends data to a pump.
	Post(pump string, data structured.Value) error

	// Listen subscribes to a pump and waits for the gateway to confirm.
	Listen(pump string, timeout time.Duration) error

	// Next returns the next forwarded event.
	Next() (protocol.Message, error)
}

// Compile-time interface check
var _ Transport = (*WSClient)(nil)
