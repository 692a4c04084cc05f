// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/aplane-algo/luahost/internal/luastate"
	"github.com/aplane-algo/luahost/internal/structured"
)

const replHelp = `Enter Lua chunks; every line runs in the same session.
  .tasks          list scheduler tasks
  .scripts        list running script files
  .run <file>     start a script file in the background
  .help           this text
  quit, exit      leave`

// replCommand handles a dot command or quit. It reports whether line was
// consumed and whether the REPL should exit.
func (h *host) replCommand(line string) (handled, exit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, false
	}
	switch fields[0] {
	case "quit", "exit":
		return true, true
	case ".help":
		h.output.Println(replHelp)
	case ".tasks":
		for _, t := range h.sched.Tasks() {
			h.output.Println(fmt.Sprintf("%-40s %s", t.Name, t.Status))
		}
	case ".scripts":
		names := h.manager.ScriptNames()
		tasks := make([]string, 0, len(names))
		for task := range names {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		for _, task := range tasks {
			h.output.Println(fmt.Sprintf("%-40s %s", task, names[task]))
		}
	case ".run":
		if len(fields) < 2 {
			h.output.Errorln("usage: .run <file>")
			break
		}
		h.manager.RunScriptFile(fields[1], func(count int, result structured.Value) {
			h.printResult(count, result)
		}, nil)
	default:
		return false, false
	}
	return true, false
}

// evalLine runs line in the REPL session and prints the result.
func (h *host) evalLine(s *luastate.Session, line string) {
	h.printResult(h.manager.WaitScriptLine(nil, s, line))
}

func (h *host) startBasicREPL(s *luastate.Session, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("lua> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if handled, exit := h.replCommand(line); exit {
			break
		} else if handled {
			continue
		}
		h.evalLine(s, line)
	}
}

func (h *host) startREPL(ctx context.Context) {
	s := h.manager.NewSession("repl", nil)
	defer func() {
		s.Close()
		h.manager.Forget(s)
	}()
	h.manager.RunScriptOnLogin()

	if !term.IsTerminal(int(os.Stdin.Fd())) { // #nosec G115 - file descriptors are small integers
		h.startBasicREPL(s, os.Stdin)
		return
	}

	fmt.Println("luahost - Lua scripting host")
	fmt.Println("Type '.help' for commands or 'quit' to exit")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[32mlua>\033[0m ",
		HistoryFile:       filepath.Join(h.dataDir, "history"),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Failed to create readline instance, falling back to basic input: %v\n", err)
		h.startBasicREPL(s, os.Stdin)
		return
	}
	defer func() {
		_ = rl.Close()
	}()
	// Script output redraws around the prompt
	h.output.SetWriter(rl.Stdout())
	defer h.output.SetWriter(os.Stdout)

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					fmt.Println("Use 'quit' or 'exit' to exit")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if handled, exit := h.replCommand(line); exit {
			break
		} else if handled {
			continue
		}
		h.evalLine(s, line)
	}
}
