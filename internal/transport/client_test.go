// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
)

func TestErrors(t *testing.T) {
	if ErrNotConnected.Error() == "" {
		t.Error("ErrNotConnected has empty message")
	}
	if ErrRejected.Error() == "" {
		t.Error("ErrRejected has empty message")
	}
}

func TestNewWS(t *testing.T) {
	client := NewWS("ws://127.0.0.1:1/pumps", protocol.CBOR)
	if client == nil {
		t.Fatal("NewWS returned nil")
	}
	if client.url != "ws://127.0.0.1:1/pumps" || client.encoding != protocol.CBOR {
		t.Errorf("client = %+v", client)
	}
}

func TestWSNilConn(t *testing.T) {
	client := NewWS("ws://127.0.0.1:1/pumps", protocol.JSON)
	client.Close()
	client.SetReadDeadline(5 * time.Second)
	client.ClearReadDeadline()

	if err := client.Post("p", structured.String("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Post() = %v, want ErrNotConnected", err)
	}
	if _, err := client.ReadMessage(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadMessage() = %v, want ErrNotConnected", err)
	}
}

func TestDialRefused(t *testing.T) {
	client := NewWS("ws://127.0.0.1:1/pumps", protocol.JSON)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Dial(ctx); err == nil {
		t.Error("Dial() to a closed port succeeded")
	}
}
