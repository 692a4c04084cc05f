// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/transport"
)

// runClient talks to a running gateway: post one event, or print the
// events of a pump until ctx ends.
func runClient(ctx context.Context, url, post, data, tail string, useCBOR bool) error {
	if post == "" && tail == "" {
		return errors.New("-connect needs -post or -tail")
	}
	encoding := protocol.JSON
	if useCBOR {
		encoding = protocol.CBOR
	}

	client := transport.NewWS(url, encoding)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Dial(dialCtx); err != nil {
		return err
	}
	defer client.Close()

	if post != "" {
		var event structured.Value
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("invalid -data: %w", err)
		}
		if err := client.Post(post, event); err != nil {
			return err
		}
	}
	if tail == "" {
		return nil
	}

	if err := client.Listen(tail, 10*time.Second); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	for {
		m, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("%s: %s\n", m.Pump, m.Data)
	}
}
