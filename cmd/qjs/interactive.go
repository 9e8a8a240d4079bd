package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/quickjs-bridge/bridge"
	"github.com/wippyai/quickjs-bridge/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyWindow = 20

type replEntry struct {
	input  string
	output string
	isErr  bool
}

type replModel struct {
	err        error
	bridge     *bridge.Bridge
	eng        *engine.WazeroEngine
	engineFile string
	opts       bridge.Options
	input      textinput.Model
	history    []replEntry
	seq        int
	busy       bool
}

type startedMsg struct {
	err    error
	bridge *bridge.Bridge
	eng    *engine.WazeroEngine
}

type evalDoneMsg struct {
	input  string
	output string
	isErr  bool
}

func newReplModel(engineFile string, opts bridge.Options) *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("qjs> ")
	ti.Placeholder = "1 + 1"
	ti.Focus()
	ti.Width = 76

	return &replModel{
		engineFile: engineFile,
		opts:       opts,
		input:      ti,
	}
}

func (m *replModel) Init() tea.Cmd {
	return m.start
}

func (m *replModel) start() tea.Msg {
	b, eng, err := newBridge(context.Background(), m.engineFile, m.opts)
	if err != nil {
		return startedMsg{err: err}
	}
	return startedMsg{bridge: b, eng: eng}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.bridge != nil {
				m.bridge.Shutdown()
			}
			if m.eng != nil {
				m.eng.Close(context.Background())
			}
			return m, tea.Quit

		case "enter":
			source := strings.TrimSpace(m.input.Value())
			if source == "" || m.busy || m.bridge == nil {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.seq++
			name := fmt.Sprintf("<repl:%d>", m.seq)
			return m, func() tea.Msg {
				result, err := m.bridge.Evaluate(source, bridge.WithName(name))
				if err != nil {
					return evalDoneMsg{input: source, output: err.Error(), isErr: true}
				}
				return evalDoneMsg{input: source, output: formatValue(result)}
			}
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.bridge = msg.bridge
		m.eng = msg.eng

	case evalDoneMsg:
		m.busy = false
		m.history = append(m.history, replEntry{
			input:  msg.input,
			output: msg.output,
			isErr:  msg.isErr,
		})
		if len(m.history) > historyWindow {
			m.history = m.history[len(m.history)-historyWindow:]
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("QuickJS"))
	b.WriteString(" ")
	b.WriteString(m.engineFile)
	b.WriteString("\n\n")

	if m.bridge == nil {
		b.WriteString("Starting engine...\n")
		return b.String()
	}

	for _, e := range m.history {
		b.WriteString(promptStyle.Render("qjs> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.isErr {
			b.WriteString(errorStyle.Render(e.output))
		} else {
			b.WriteString(resultStyle.Render(e.output))
		}
		b.WriteString("\n")
	}

	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter evaluate • ctrl+c quit"))
	return b.String()
}

func runInteractive(engineFile string, opts bridge.Options) error {
	p := tea.NewProgram(newReplModel(engineFile, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
