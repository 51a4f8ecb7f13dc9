// Package ui is the interactive command REPL.
//
// Each line typed is run through the same dispatcher the agent uses, so
// policy, logging and help text behave identically for a human operator.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cypher/terminal"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Executor runs one command line.
type Executor interface {
	Execute(ctx context.Context, line string) terminal.Execution
}

type entry struct {
	line     string
	output   string
	success  bool
	at       time.Time
	rendered string
}

type executedMsg struct {
	line string
	exec terminal.Execution
}

// REPL is the Bubble Tea model.
type REPL struct {
	ctx  context.Context
	exec Executor

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries    []entry
	history    []string
	historyIdx int
	busy       bool
	raw        bool
	status     string

	width  int
	height int
	ready  bool

	copy func(string) error
	now  func() time.Time
}

// New returns a REPL running lines through exec.
func New(ctx context.Context, exec Executor) REPL {
	ti := textinput.New()
	ti.Prompt = "cypher> "
	ti.PromptStyle = CommandStyle
	ti.Placeholder = `type a command, "help" for the list`
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return REPL{
		ctx:     ctx,
		exec:    exec,
		input:   ti,
		spinner: sp,
		copy:    clipboard.WriteAll,
		now:     time.Now,
	}
}

func (m REPL) Init() tea.Cmd {
	return textinput.Blink
}

func (m REPL) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpHeight := max(msg.Height-4, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		for i := range m.entries {
			m.entries[i].rendered = m.render(m.entries[i])
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			return m.submit(line)
		case tea.KeyUp:
			m.recall(-1)
			return m, nil
		case tea.KeyDown:
			m.recall(1)
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case executedMsg:
		m.busy = false
		m.status = ""
		e := entry{line: msg.line, output: msg.exec.Output, success: msg.exec.Success, at: m.now()}
		e.rendered = m.render(e)
		m.entries = append(m.entries, e)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m REPL) submit(line string) (tea.Model, tea.Cmd) {
	if line == "" {
		return m, nil
	}
	m.history = append(m.history, line)
	m.historyIdx = len(m.history)

	switch line {
	case "exit", "quit":
		return m, tea.Quit
	case ":copy":
		m.status = m.copyLast()
		return m, nil
	case ":clear":
		m.entries = nil
		m.refresh()
		return m, nil
	case ":raw":
		m.raw = !m.raw
		for i := range m.entries {
			m.entries[i].rendered = m.render(m.entries[i])
		}
		m.status = fmt.Sprintf("Markdown rendering %s", onOff(!m.raw))
		m.refresh()
		return m, nil
	}

	m.busy = true
	m.status = ""
	return m, tea.Batch(m.spinner.Tick, m.execute(line))
}

func (m REPL) execute(line string) tea.Cmd {
	return func() tea.Msg {
		return executedMsg{line: line, exec: m.exec.Execute(m.ctx, line)}
	}
}

func (m *REPL) copyLast() string {
	if len(m.entries) == 0 {
		return "Nothing to copy"
	}
	if err := m.copy(m.entries[len(m.entries)-1].output); err != nil {
		return "Copy failed: " + err.Error()
	}
	return "Copied last output to clipboard"
}

func (m *REPL) recall(step int) {
	if len(m.history) == 0 {
		return
	}
	m.historyIdx = min(max(m.historyIdx+step, 0), len(m.history))
	if m.historyIdx == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.historyIdx])
	m.input.CursorEnd()
}

func (m REPL) render(e entry) string {
	if !e.success {
		return ErrorStyle.Render(e.output)
	}
	if m.raw {
		return OutputStyle.Render(e.output)
	}
	return renderMarkdown(e.output, m.width)
}

func (m *REPL) refresh() {
	if !m.ready {
		return
	}
	if len(m.entries) == 0 {
		m.viewport.SetContent(DimStyle.Render(`No commands yet. Try "help".`))
		return
	}
	blocks := make([]string, len(m.entries))
	for i, e := range m.entries {
		header := CommandStyle.Render("$ "+e.line) + "  " + DimStyle.Render(terminal.FormatTimestamp(e.at))
		blocks[i] = header + "\n" + e.rendered
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

func (m REPL) View() string {
	if !m.ready {
		return "Starting..."
	}

	status := m.status
	if m.busy {
		status = m.spinner.View() + " running..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		StatusStyle.Render(status),
		m.input.View(),
		FormatFooter("Enter", "Run", "↑/↓", "History", ":copy", "Copy output", ":raw", "Toggle Markdown", "exit", "Quit"),
	)
}

// LastOutput returns the output of the most recent command.
func (m REPL) LastOutput() string {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1].output
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Run starts the REPL on the terminal and blocks until the user leaves or
// ctx ends.
func Run(ctx context.Context, exec Executor) error {
	p := tea.NewProgram(New(ctx, exec), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
