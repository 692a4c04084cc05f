// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package protocol defines the WebSocket message types shared between the
// pump gateway (server) and its clients.
// This is the single source of truth for the wire protocol.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/aplane-algo/luahost/internal/structured"
)

// WebSocket message op constants
const (
	// Client → gateway
	OpPost          = "post"
	OpListen        = "listen"
	OpStopListening = "stoplistening"

	// Gateway → client. Forwarded events carry no op.
	OpListening = "listening"
	OpError     = "error"
)

// Message is the single frame shape in both directions. A forwarded event
// is {"pump": name, "data": event}.
type Message struct {
	Op    string           `json:"op,omitempty"`
	Pump  string           `json:"pump,omitempty"`
	Data  structured.Value `json:"data"`
	Error string           `json:"error,omitempty"`
}

// IsEvent reports whether m is a forwarded pump event.
func (m Message) IsEvent() bool { return m.Op == "" }

// Encoding selects the frame format.
type Encoding int

const (
	// JSON frames travel as websocket text messages.
	JSON Encoding = iota
	// CBOR frames travel as websocket binary messages.
	CBOR
)

func (e Encoding) String() string {
	if e == CBOR {
		return "cbor"
	}
	return "json"
}

// Encode serializes m in encoding e.
func Encode(e Encoding, m Message) ([]byte, error) {
	if e == CBOR {
		return cbor.Marshal(m)
	}
	return json.Marshal(m)
}

// Decode parses a frame in encoding e.
func Decode(e Encoding, data []byte) (Message, error) {
	var m Message
	var err error
	if e == CBOR {
		err = cbor.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to parse %s frame: %w", e, err)
	}
	return m, nil
}

// Validate checks that a client request names a known op and a pump.
func (m Message) Validate() error {
	switch m.Op {
	case OpPost, OpListen, OpStopListening:
	case "":
		return fmt.Errorf("missing op")
	default:
		return fmt.Errorf("unknown op '%s'", m.Op)
	}
	if m.Pump == "" {
		return fmt.Errorf("op '%s' requires a pump", m.Op)
	}
	return nil
}
