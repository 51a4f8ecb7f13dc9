package terminal

import (
	"context"
	"strings"
	"testing"
	"time"
)

func noop(ctx context.Context, args Args) (Result, error) { return Result{}, nil }

func TestRegistryOrderAndOverwrite(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(
		Command{Name: "help", Handler: noop},
		Command{Name: "search-web", Description: "old", Handler: noop},
		Command{Name: "twitter", Handler: noop},
		Command{Name: "", Handler: noop},
		Command{Name: "search-web", Description: "new", Handler: noop},
	)

	var names []string
	for _, cmd := range r.All() {
		names = append(names, cmd.Name)
	}
	if got := strings.Join(names, ","); got != "help,search-web,twitter" {
		t.Errorf("got order %q, want %q", got, "help,search-web,twitter")
	}

	cmd, ok := r.Get("search-web")
	if !ok || cmd.Description != "new" {
		t.Errorf("got %+v, want the later registration", cmd)
	}
	if r.Len() != 3 {
		t.Errorf("got %d commands, want 3", r.Len())
	}
}

func TestHelpText(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(HelpCommand(r))
	r.Register(Command{
		Name:        "search-web",
		Description: "Search the web",
		Parameters:  []Parameter{{Name: "query", Required: true}},
		Handler:     noop,
	})

	want := strings.Join([]string{
		"Available commands:",
		"help <query>              - Displays available commands and usage information",
		"search-web <query>        - Search the web",
	}, "\n")
	if got := r.HelpText(); got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestHelpCommandQuery(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(HelpCommand(r))
	r.Register(
		Command{Name: "search-web", Description: "Search the web", Handler: noop},
		Command{Name: "twitter", Description: "Interact with Twitter", Handler: noop},
	)
	d := NewDispatcher(r)

	exec := d.Execute(context.Background(), "help twt")
	if !strings.Contains(exec.Output, "twitter") || strings.Contains(exec.Output, "search-web") {
		t.Errorf("unexpected filtered help:\n%s", exec.Output)
	}

	exec = d.Execute(context.Background(), "help interact with")
	if !strings.Contains(exec.Output, "twitter") || strings.Contains(exec.Output, "search-web") {
		t.Errorf("multi-word query was not joined:\n%s", exec.Output)
	}

	exec = d.Execute(context.Background(), "help zzzz yyyy")
	if exec.Output != `No commands match "zzzz yyyy"` {
		t.Errorf("got %q", exec.Output)
	}

	exec = d.Execute(context.Background(), "help zzzz")
	if exec.Output != `No commands match "zzzz"` {
		t.Errorf("got %q", exec.Output)
	}

	exec = d.Execute(context.Background(), "help")
	if exec.Output != r.HelpText() {
		t.Errorf("bare help should print the full help text")
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 3, 5, 0, 7, 0, 0, time.UTC), "05/03/24 - 12:07 AM UTC"},
		{time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), "31/12/24 - 12:00 PM UTC"},
		{time.Date(2025, 1, 9, 21, 45, 0, 0, time.UTC), "09/01/25 - 9:45 PM UTC"},
		{time.Date(2025, 1, 9, 23, 45, 0, 0, time.FixedZone("X", 2*3600)), "09/01/25 - 9:45 PM UTC"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.in); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	ts := CurrentTimestamp()
	if !strings.HasPrefix(ts, "[") || !strings.HasSuffix(ts, "UTC]") {
		t.Errorf("got %q", ts)
	}
}
