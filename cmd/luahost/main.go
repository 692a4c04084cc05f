// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aplane-algo/luahost/internal/events"
	"github.com/aplane-algo/luahost/internal/util"
	"github.com/aplane-algo/luahost/internal/version"
)

func main() {
	// Define all flags upfront before parsing
	printVersion := flag.Bool("version", false, "Print version and exit")
	printConfig := flag.Bool("config", false, "Print the effective configuration and exit")
	dataDir := flag.String("d", "", "Data directory (default: ~/.luahost or LUAHOST_DATA)")
	expr := flag.String("e", "", "Execute Lua chunk and exit")
	scriptFile := flag.String("f", "", "Execute Lua script file and exit")
	watch := flag.Bool("watch", false, "With -f, rerun the script whenever it changes")
	console := flag.Bool("console", false, "Start the full-screen console instead of the line REPL")
	listen := flag.String("listen", "", "Serve the websocket pump gateway on this address (overrides config)")
	connect := flag.String("connect", "", "Gateway URL for -post/-tail (e.g. ws://127.0.0.1:8765/pumps)")
	post := flag.String("post", "", "With -connect, post -data to this pump and exit")
	data := flag.String("data", "null", "JSON event for -post")
	tail := flag.String("tail", "", "With -connect, print events from this pump until interrupted")
	useCBOR := flag.Bool("cbor", false, "With -connect, use binary CBOR frames instead of JSON")
	flag.Parse()

	// Handle early-exit flags
	if *printVersion {
		fmt.Printf("luahost %s\n", version.String())
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Gateway client modes need no data directory
	if *connect != "" {
		if err := runClient(ctx, *connect, *post, *data, *tail, *useCBOR); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Resolve data directory: -d flag > LUAHOST_DATA env var > ~/.luahost
	resolvedDataDir := util.RequireDataDir(*dataDir)
	if *printConfig {
		util.DisplayConfig(resolvedDataDir)
		os.Exit(0)
	}

	config, err := util.LoadConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		config.Listen = *listen
	}

	// Initialize logger (supports LUAHOST_DEBUG environment variable)
	util.InitLogger(os.Stderr, config.LogLevel)

	h, err := newHost(ctx, config, resolvedDataDir, events.Default(), events.DefaultAPIs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Positional argument is a script file, like -f
	if *scriptFile == "" && flag.NArg() > 0 {
		*scriptFile = flag.Arg(0)
	}

	code := 0
	switch {
	case *expr != "":
		code = h.runExpression(*expr)
	case *scriptFile != "" && *watch:
		code = h.watchScript(ctx, *scriptFile)
	case *scriptFile != "":
		code = h.runScriptFile(*scriptFile)
	case *console:
		code = h.startConsole()
	default:
		h.startREPL(ctx)
	}
	h.Close()
	os.Exit(code)
}
