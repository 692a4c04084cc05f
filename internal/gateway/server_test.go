// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package gateway

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/protocol"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/testutil"
	"github.com/aplane-algo/luahost/internal/transport"
)

func startGateway(t *testing.T) (*Server, *events.Registry, string) {
	t.Helper()
	reg := events.NewRegistry()
	gw := New(reg)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return gw, reg, "ws" + strings.TrimPrefix(srv.URL, "http") + Path
}

func dial(t *testing.T, url string, encoding protocol.Encoding) *transport.WSClient {
	t.Helper()
	c := transport.NewWS(url, encoding)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPostReachesPump(t *testing.T) {
	for _, encoding := range []protocol.Encoding{protocol.JSON, protocol.CBOR} {
		t.Run(encoding.String(), func(t *testing.T) {
			_, reg, url := startGateway(t)
			got := make(chan structured.Value, 1)
			if _, err := reg.Listen("inbox", "test", func(v structured.Value) { got <- v }); err != nil {
				t.Fatal(err)
			}

			c := dial(t, url, encoding)
			sent := structured.MapOf("x", 1, "tags", structured.Array(structured.String("a")))
			if err := c.Post("inbox", sent); err != nil {
				t.Fatal(err)
			}
			select {
			case v := <-got:
				if !v.Equal(sent) {
					t.Errorf("pump got %s, want %s", v, sent)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("post did not reach the pump")
			}
		})
	}
}

func TestListenForwardsEvents(t *testing.T) {
	for _, encoding := range []protocol.Encoding{protocol.JSON, protocol.CBOR} {
		t.Run(encoding.String(), func(t *testing.T) {
			_, reg, url := startGateway(t)
			c := dial(t, url, encoding)
			if err := c.Listen("outbox", 2*time.Second); err != nil {
				t.Fatal(err)
			}

			reg.Post("outbox", structured.MapOf("n", 7))
			c.SetReadDeadline(2 * time.Second)
			m, err := c.Next()
			if err != nil {
				t.Fatal(err)
			}
			if m.Pump != "outbox" || m.Data.Get("n").AsInteger() != 7 {
				t.Errorf("event = %+v, want outbox {n=7}", m)
			}
		})
	}
}

func TestBadRequestGetsErrorFrame(t *testing.T) {
	_, _, url := startGateway(t)
	c := dial(t, url, protocol.JSON)

	if err := c.WriteMessage(protocol.Message{Op: "shout", Pump: "x"}); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(2 * time.Second)
	_, err := c.Next()
	if !errors.Is(err, transport.ErrRejected) || !strings.Contains(err.Error(), "unknown op 'shout'") {
		t.Errorf("err = %v, want rejection naming the op", err)
	}

	if err := c.WriteMessage(protocol.Message{Op: protocol.OpPost}); err != nil {
		t.Fatal(err)
	}
	_, err = c.Next()
	if !errors.Is(err, transport.ErrRejected) || !strings.Contains(err.Error(), "requires a pump") {
		t.Errorf("err = %v, want rejection for missing pump", err)
	}
}

func TestStopListening(t *testing.T) {
	_, reg, url := startGateway(t)
	c := dial(t, url, protocol.JSON)
	if err := c.Listen("a", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.Listen("b", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(protocol.Message{Op: protocol.OpStopListening, Pump: "a"}); err != nil {
		t.Fatal(err)
	}
	testutil.WaitFor(t, 2*time.Second, func() bool { return len(reg.Obtain("a").Listeners()) == 0 })

	reg.Post("a", structured.String("ignored"))
	reg.Post("b", structured.String("kept"))
	c.SetReadDeadline(2 * time.Second)
	m, err := c.Next()
	if err != nil {
		t.Fatal(err)
	}
	if m.Pump != "b" || m.Data.AsString() != "kept" {
		t.Errorf("event = %+v, want b/kept", m)
	}
}

func TestDisconnectDetachesListeners(t *testing.T) {
	gw, reg, url := startGateway(t)
	c := dial(t, url, protocol.CBOR)
	if err := c.Listen("watched", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if n := len(reg.Obtain("watched").Listeners()); n != 1 {
		t.Fatalf("listeners = %d, want 1", n)
	}
	c.Close()
	testutil.WaitFor(t, 2*time.Second, func() bool { return len(reg.Obtain("watched").Listeners()) == 0 && gw.Clients() == 0 })
}

func TestListenAndServe(t *testing.T) {
	reg := events.NewRegistry()
	gw := New(reg)
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		errs <- gw.ListenAndServe(ctx, "127.0.0.1:0", func(a net.Addr) { addrs <- a.String() })
	}()

	var addr string
	select {
	case addr = <-addrs:
	case err := <-errs:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not start")
	}
	c := dial(t, "ws://"+addr+Path, protocol.JSON)
	if err := c.Listen("p", 2*time.Second); err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("ListenAndServe() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
	testutil.WaitFor(t, 2*time.Second, func() bool { return gw.Clients() == 0 })
}
