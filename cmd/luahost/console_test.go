// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/luahost/internal/structured"
)

func typeInto(m consoleModel, text string) consoleModel {
	for _, r := range text {
		var msg tea.KeyMsg
		if r == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		}
		next, _ := m.Update(msg)
		m = next.(consoleModel)
	}
	return m
}

func press(m consoleModel, key tea.KeyType) (consoleModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(consoleModel), cmd
}

func TestConsoleSubmitsInput(t *testing.T) {
	var submitted []string
	m := newConsoleModel(func(line string) { submitted = append(submitted, line) })
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(consoleModel)

	m = typeInto(m, "return 1 + 1")
	m, _ = press(m, tea.KeyEnter)

	if len(submitted) != 1 || submitted[0] != "return 1 + 1" {
		t.Fatalf("submitted = %q", submitted)
	}
	if m.input != "" || m.running != 1 {
		t.Errorf("input = %q running = %d after enter", m.input, m.running)
	}

	next, _ = m.Update(resultMsg{count: 1, result: structured.Integer(2)})
	m = next.(consoleModel)
	if m.running != 0 || m.lines[len(m.lines)-1] != "2" {
		t.Errorf("lines = %q running = %d", m.lines, m.running)
	}

	next, _ = m.Update(resultMsg{count: -1, result: structured.String("boom")})
	m = next.(consoleModel)
	if !strings.Contains(m.lines[len(m.lines)-1], "Error: boom") {
		t.Errorf("last line = %q, want the error", m.lines[len(m.lines)-1])
	}
}

func TestConsoleOutputAndHistory(t *testing.T) {
	m := newConsoleModel(nil)
	next, _ := m.Update(outputMsg("INFO: test:1: hello"))
	m = next.(consoleModel)
	if len(m.lines) != 1 || m.lines[0] != "INFO: test:1: hello" {
		t.Errorf("lines = %q", m.lines)
	}

	m = typeInto(m, "a")
	m, _ = press(m, tea.KeyEnter)
	m = typeInto(m, "bc")
	m, _ = press(m, tea.KeyBackspace)
	if m.input != "b" {
		t.Errorf("input after backspace = %q", m.input)
	}
	m, _ = press(m, tea.KeyEnter)

	m, _ = press(m, tea.KeyUp)
	if m.input != "b" {
		t.Errorf("first up = %q, want b", m.input)
	}
	m, _ = press(m, tea.KeyUp)
	if m.input != "a" {
		t.Errorf("second up = %q, want a", m.input)
	}
	m, _ = press(m, tea.KeyDown)
	m, _ = press(m, tea.KeyDown)
	if m.input != "" {
		t.Errorf("down past history = %q, want empty", m.input)
	}
}

func TestConsoleQuit(t *testing.T) {
	m := newConsoleModel(nil)
	if _, cmd := press(m, tea.KeyEsc); cmd == nil {
		t.Error("Esc returned no command")
	}
	m = typeInto(m, "quit")
	if _, cmd := press(m, tea.KeyEnter); cmd == nil {
		t.Error("quit returned no command")
	}
}

func TestConsoleScrollbackBounded(t *testing.T) {
	m := newConsoleModel(nil)
	for i := 0; i < consoleMaxLines+10; i++ {
		m.appendLine("x")
	}
	if len(m.lines) != consoleMaxLines {
		t.Errorf("lines = %d, want %d", len(m.lines), consoleMaxLines)
	}
}
