// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aplane-algo/luahost/internal/structured"
)

// consoleMaxLines bounds the scrollback kept by the console.
const consoleMaxLines = 5000

var (
	consoleTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	consoleSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))

	consoleOutputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	consolePromptStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	consoleWarnStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	consoleErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)

	consoleDebugStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

// outputMsg carries one line posted on the output pump.
type outputMsg string

// resultMsg carries the result of a submitted chunk.
type resultMsg struct {
	count  int
	result structured.Value
}

// consoleModel is a scrollback viewport over script output plus an input
// line whose chunks run in one session.
type consoleModel struct {
	submit func(line string)

	viewport viewport.Model
	ready    bool
	width    int
	height   int

	lines   []string
	input   string
	history []string
	histPos int
	running int
}

func newConsoleModel(submit func(line string)) consoleModel {
	return consoleModel{submit: submit}
}

func (m consoleModel) Init() tea.Cmd { return nil }

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpWidth, vpHeight := msg.Width-2, msg.Height-5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(vpWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case outputMsg:
		m.appendLine(styleOutput(string(msg)))
		return m, nil

	case resultMsg:
		if m.running > 0 {
			m.running--
		}
		switch {
		case msg.count < 0:
			m.appendLine(consoleErrorStyle.Render("Error: " + msg.result.AsString()))
		case msg.count > 0:
			m.appendLine(msg.result.String())
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}
	return m, nil
}

func (m consoleModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyEnter:
		line := strings.TrimSpace(m.input)
		m.input = ""
		if line == "" {
			return m, nil
		}
		if line == "quit" || line == "exit" {
			return m, tea.Quit
		}
		m.history = append(m.history, line)
		m.histPos = len(m.history)
		m.appendLine(consolePromptStyle.Render("> ") + line)
		m.running++
		if m.submit != nil {
			m.submit(line)
		}
		return m, nil

	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
		return m, nil

	case tea.KeyUp:
		if m.histPos > 0 {
			m.histPos--
			m.input = m.history[m.histPos]
		}
		return m, nil

	case tea.KeyDown:
		if m.histPos < len(m.history)-1 {
			m.histPos++
			m.input = m.history[m.histPos]
		} else {
			m.histPos = len(m.history)
			m.input = ""
		}
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeySpace:
		m.input += " "
		return m, nil

	case tea.KeyRunes:
		m.input += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m *consoleModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > consoleMaxLines {
		m.lines = m.lines[len(m.lines)-consoleMaxLines:]
	}
	m.refresh()
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func styleOutput(line string) string {
	level, _, _ := strings.Cut(line, ":")
	switch level {
	case "WARN":
		return consoleWarnStyle.Render(line)
	case "ERROR":
		return consoleErrorStyle.Render(line)
	case "DEBUG":
		return consoleDebugStyle.Render(line)
	}
	return line
}

func (m consoleModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	var sb strings.Builder
	sb.WriteString(consoleTitleStyle.Render("luahost console"))
	status := "idle"
	if m.running > 0 {
		status = fmt.Sprintf("%d running", m.running)
	}
	sb.WriteString(consoleSubtitleStyle.Render(fmt.Sprintf("  %s  (Esc to quit, PgUp/PgDn to scroll)", status)))
	sb.WriteString("\n")
	sb.WriteString(consoleOutputStyle.Render(m.viewport.View()))
	sb.WriteString("\n")
	sb.WriteString(consolePromptStyle.Render("lua> "))
	sb.WriteString(m.input)
	sb.WriteString("█")
	return sb.String()
}

// startConsole runs the full-screen console until the user quits.
func (h *host) startConsole() int {
	s := h.manager.NewSession("console", nil)
	defer func() {
		s.Close()
		h.manager.Forget(s)
	}()

	var p *tea.Program
	model := newConsoleModel(func(line string) {
		h.manager.RunScriptLine(s, line, func(count int, result structured.Value) {
			p.Send(resultMsg{count: count, result: result})
		})
	})
	p = tea.NewProgram(model, tea.WithAltScreen())

	h.output.SetHook(func(line string) { p.Send(outputMsg(line)) })
	defer h.output.SetHook(nil)
	h.manager.RunScriptOnLogin()

	if _, err := p.Run(); err != nil {
		h.output.SetHook(nil)
		h.output.Errorln(fmt.Sprintf("Error: console failed: %v", err))
		return 1
	}
	return 0
}
