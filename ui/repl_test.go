package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cypher/terminal"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeExecutor struct {
	lines []string
}

func (f *fakeExecutor) Execute(ctx context.Context, line string) terminal.Execution {
	f.lines = append(f.lines, line)
	if line == "boom" {
		return terminal.Execution{Command: line, Output: "Unknown command: boom"}
	}
	return terminal.Execution{Command: line, Output: "ran " + line, Success: true}
}

func newTestREPL(t *testing.T) (REPL, *fakeExecutor) {
	t.Helper()
	exec := &fakeExecutor{}
	m := New(context.Background(), exec)
	m.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC) }
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(REPL), exec
}

func typeLine(t *testing.T, m REPL, line string) (REPL, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(REPL), cmd
}

func TestExecutedOutputIsShown(t *testing.T) {
	m, exec := newTestREPL(t)

	m, cmd := typeLine(t, m, "help")
	if cmd == nil || !m.busy {
		t.Fatal("expected a running command")
	}

	msg := m.execute("help")()
	if len(exec.lines) != 1 || exec.lines[0] != "help" {
		t.Errorf("got executed lines %v", exec.lines)
	}

	updated, _ := m.Update(msg)
	m = updated.(REPL)
	if m.busy {
		t.Error("expected busy to clear")
	}
	if got := m.LastOutput(); got != "ran help" {
		t.Errorf("got %q, want %q", got, "ran help")
	}

	view := stripANSI(m.View())
	for _, want := range []string{"$ help", "02/01/24 - 3:04 PM UTC", "ran help"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestFailedOutputIsShownRaw(t *testing.T) {
	m, _ := newTestREPL(t)

	updated, _ := m.Update(m.execute("boom")())
	m = updated.(REPL)
	if !strings.Contains(stripANSI(m.View()), "Unknown command: boom") {
		t.Errorf("view missing error output:\n%s", m.View())
	}
}

func TestExitAndQuit(t *testing.T) {
	for _, line := range []string{"exit", "quit"} {
		m, _ := newTestREPL(t)
		_, cmd := typeLine(t, m, line)
		if cmd == nil {
			t.Fatalf("%s: expected a command", line)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", line)
		}
	}
}

func TestCopy(t *testing.T) {
	tests := []struct {
		name    string
		run     bool
		copyErr error
		want    string
		copied  string
	}{
		{name: "nothing yet", want: "Nothing to copy"},
		{name: "copies last output", run: true, want: "Copied last output to clipboard", copied: "ran whoami"},
		{name: "clipboard failure", run: true, copyErr: errors.New("no display"), want: "Copy failed: no display"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestREPL(t)
			var copied string
			m.copy = func(s string) error {
				copied = s
				return tt.copyErr
			}
			if tt.run {
				updated, _ := m.Update(m.execute("whoami")())
				m = updated.(REPL)
			}

			m, _ = typeLine(t, m, ":copy")
			if m.status != tt.want {
				t.Errorf("got status %q, want %q", m.status, tt.want)
			}
			if tt.copied != "" && copied != tt.copied {
				t.Errorf("got copied %q, want %q", copied, tt.copied)
			}
		})
	}
}

func TestHistoryRecall(t *testing.T) {
	m, _ := newTestREPL(t)
	m, _ = typeLine(t, m, ":clear")
	m, _ = typeLine(t, m, ":raw")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(REPL)
	if got := m.input.Value(); got != ":raw" {
		t.Errorf("got %q, want %q", got, ":raw")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(REPL)
	if got := m.input.Value(); got != ":clear" {
		t.Errorf("got %q, want %q", got, ":clear")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(REPL)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(REPL)
	if got := m.input.Value(); got != "" {
		t.Errorf("got %q, want empty input", got)
	}
}

func TestRawToggle(t *testing.T) {
	m, _ := newTestREPL(t)
	m, _ = typeLine(t, m, ":raw")
	if !m.raw || m.status != "Markdown rendering off" {
		t.Errorf("got raw=%v status %q", m.raw, m.status)
	}
	m, _ = typeLine(t, m, ":raw")
	if m.raw || m.status != "Markdown rendering on" {
		t.Errorf("got raw=%v status %q", m.raw, m.status)
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := stripANSI(renderMarkdown("first line\nsecond line", 80))
	if !strings.Contains(got, "first line") || !strings.Contains(got, "second line") {
		t.Errorf("got %q", got)
	}
}
