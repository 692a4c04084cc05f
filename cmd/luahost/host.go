// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/aplane-algo/luahost/internal/coro"
	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/gateway"
	"github.com/aplane-algo/luahost/internal/luabridge"
	"github.com/aplane-algo/luahost/internal/luamanager"
	"github.com/aplane-algo/luahost/internal/luastate"
	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
	lualib "github.com/aplane-algo/luahost/scripts/lua"
)

// host wires the scheduler, pumps, script manager and gateway together.
type host struct {
	config  util.Config
	dataDir string

	sched   *coro.Scheduler
	pumps   *events.Registry
	apis    *events.APIs
	manager *luamanager.Manager
	output  *outputSink

	cancelGateway context.CancelFunc
	gatewayDone   chan struct{}
}

// sessionOptions maps the configuration onto a session template.
func sessionOptions(config util.Config, pumps *events.Registry, apis *events.APIs) luastate.Options {
	l := config.EffectiveLimits()
	return luastate.Options{
		Namespace:    config.Namespace,
		LibraryPaths: config.LibraryPaths,
		Pumps:        pumps,
		APIs:         apis,
		Limits: luastate.Limits{
			Bridge: luabridge.Limits{
				ArrayMax:    l.ArrayMax,
				ArrayGapMax: l.ArrayGapMax,
				MaxDepth:    l.MaxDepth,
			},
			InterruptsMax:            l.InterruptsMax,
			InterruptsSuspend:        l.InterruptsSuspend,
			InstructionsPerInterrupt: l.InstructionsPerInterrupt,
			RequireDepthMax:          l.RequireDepthMax,
		},
	}
}

func newHost(ctx context.Context, config util.Config, dataDir string, pumps *events.Registry, apis *events.APIs) (*host, error) {
	h := &host{
		config:  config,
		dataDir: dataDir,
		sched:   coro.NewScheduler(),
		pumps:   pumps,
		apis:    apis,
		output:  &outputSink{w: os.Stdout, color: util.SupportsColor()},
	}

	if len(config.LibraryPaths) > 0 {
		if err := luamanager.InstallLibrary(lualib.FS, config.LibraryPaths[0]); err != nil {
			return nil, fmt.Errorf("failed to install Lua library: %w", err)
		}
	}

	h.manager = luamanager.New(h.sched, luamanager.Config{
		Session:       sessionOptions(config, h.pumps, h.apis),
		AutorunScript: config.AutorunScript,
		DataDir:       dataDir,
	})
	api := h.manager.API()
	if err := h.apis.Register(api); err != nil {
		return nil, err
	}
	if _, err := api.Serve(h.pumps); err != nil {
		return nil, err
	}

	if _, err := h.pumps.Listen(luastate.OutputPump, "luahost-output", func(v structured.Value) {
		h.output.Println(v.AsString())
	}); err != nil {
		return nil, err
	}

	if config.Listen != "" {
		h.startGateway(ctx, config.Listen)
	}
	return h, nil
}

func (h *host) startGateway(ctx context.Context, addr string) {
	gwCtx, cancel := context.WithCancel(ctx)
	h.cancelGateway = cancel
	h.gatewayDone = make(chan struct{})
	gw := gateway.New(h.pumps)
	go func() {
		defer close(h.gatewayDone)
		err := gw.ListenAndServe(gwCtx, addr, func(a net.Addr) {
			util.Debug("gateway ready", "addr", a.String())
		})
		if err != nil {
			util.Logger.Error("gateway stopped", "error", err)
		}
	}()
}

// Close stops every script and the gateway.
func (h *host) Close() {
	h.sched.Stop()
	h.sched.Wait()
	if h.cancelGateway != nil {
		h.cancelGateway()
		<-h.gatewayDone
	}
}

// printResult reports a chunk's result and returns the process exit code.
func (h *host) printResult(count int, result structured.Value) int {
	switch {
	case count < 0:
		h.output.Errorln("Error: " + result.AsString())
		return 1
	case count > 0:
		h.output.Println(result.String())
	}
	return 0
}

func (h *host) runExpression(expr string) int {
	s := h.manager.NewSession("lua: -e", nil)
	defer s.Close()
	return h.printResult(h.manager.WaitScriptLine(nil, s, expr))
}

func (h *host) runScriptFile(path string) int {
	return h.printResult(h.manager.WaitScriptFile(nil, path))
}

// outputSink serializes writes from pump listeners and result printing.
type outputSink struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	// hook, when set, receives every line instead of the writers.
	hook func(line string)
}

func (o *outputSink) SetWriter(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

func (o *outputSink) SetHook(hook func(line string)) {
	o.mu.Lock()
	o.hook = hook
	o.mu.Unlock()
}

func (o *outputSink) Println(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hook != nil {
		o.hook(line)
		return
	}
	if o.color {
		line = util.FormatOutputWithColor(line, util.LevelColor)
	}
	_, _ = fmt.Fprintln(o.w, line)
}

func (o *outputSink) Errorln(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hook != nil {
		o.hook(line)
		return
	}
	_, _ = fmt.Fprintln(os.Stderr, line)
}
