package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Log(ctx context.Context, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

type denyGate struct{ command string }

func (g denyGate) Allow(ctx context.Context, inv Invocation) (bool, string) {
	if inv.Command == g.command {
		return false, "not today"
	}
	return true, ""
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) (*Dispatcher, *recordingSink, *[]Args) {
	t.Helper()
	var calls []Args

	r := NewRegistry(nil)
	r.Register(
		Command{
			Name:        "post-tweet",
			Description: "Post a tweet",
			Parameters:  []Parameter{{Name: "text", Required: true, Type: TypeString}},
			Handler: func(ctx context.Context, args Args) (Result, error) {
				calls = append(calls, args)
				return Result{Output: "posted: " + args.String("text")}, nil
			},
		},
		Command{
			Name: "fail",
			Handler: func(ctx context.Context, args Args) (Result, error) {
				return Result{}, errors.New("boom")
			},
		},
		Command{
			Name: "panic",
			Handler: func(ctx context.Context, args Args) (Result, error) {
				panic("kaboom")
			},
		},
		Command{
			Name: "echo",
			Parameters: []Parameter{
				{Name: RestParameterName},
			},
			Handler: func(ctx context.Context, args Args) (Result, error) {
				calls = append(calls, args)
				return Result{Output: strings.Join(args.Strings(RestParameterName), "|")}, nil
			},
		},
	)

	sink := &recordingSink{}
	opts = append([]DispatcherOption{WithSink(sink)}, opts...)
	return NewDispatcher(r, opts...), sink, &calls
}

func TestExecuteBindsQuotedText(t *testing.T) {
	d, sink, calls := newTestDispatcher(t)

	exec := d.Execute(context.Background(), `post-tweet "hello world"`)
	if !exec.Success || exec.Output != "posted: hello world" {
		t.Fatalf("got %+v", exec)
	}
	if len(*calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(*calls))
	}
	if got := (*calls)[0]["text"]; got != "hello world" {
		t.Errorf("got text %q, want %q", got, "hello world")
	}
	if len(sink.entries) != 1 || sink.entries[0].Command != `post-tweet "hello world"` || !sink.entries[0].Success {
		t.Errorf("unexpected sink entries %+v", sink.entries)
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "empty", line: "  ", want: "Error: No command provided"},
		{name: "unknown", line: "frobnicate", want: "Unknown command: frobnicate"},
		{name: "missing parameter", line: "post-tweet", want: "Error executing command 'post-tweet': missing required parameter: text"},
		{name: "handler error", line: "fail", want: "Error executing command 'fail': boom"},
		{name: "handler panic", line: "panic now", want: "Error executing command 'panic': kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sink, calls := newTestDispatcher(t)

			exec := d.Execute(context.Background(), tt.line)
			if exec.Output != tt.want {
				t.Errorf("got %q, want %q", exec.Output, tt.want)
			}
			if exec.Success {
				t.Error("expected Success to be false")
			}
			if len(*calls) != 0 {
				t.Errorf("handler should not have been invoked")
			}
			if len(sink.entries) != 1 || sink.entries[0].Success {
				t.Errorf("failure not logged: %+v", sink.entries)
			}
		})
	}
}

func TestExecuteRestArguments(t *testing.T) {
	d, _, calls := newTestDispatcher(t)

	exec := d.Execute(context.Background(), "echo a b 'c d'")
	if exec.Output != "a|b|c d" {
		t.Errorf("got %q, want %q", exec.Output, "a|b|c d")
	}
	got := (*calls)[0][RestParameterName].([]string)
	if len(got) != 3 || got[0] != "a" || got[2] != "c d" {
		t.Errorf("got %q", got)
	}
}

func TestExecuteGate(t *testing.T) {
	d, _, calls := newTestDispatcher(t, WithGate(denyGate{command: "post-tweet"}))

	exec := d.Execute(context.Background(), "post-tweet hi")
	want := "Command 'post-tweet' blocked by policy: not today"
	if exec.Output != want || exec.Success {
		t.Errorf("got %+v, want blocked output %q", exec, want)
	}
	if len(*calls) != 0 {
		t.Error("blocked handler was invoked")
	}

	if exec := d.Execute(context.Background(), "echo ok"); !exec.Success {
		t.Errorf("unblocked command failed: %+v", exec)
	}
}

func TestExecuteMultiple(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)
	d.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC) }

	batch := d.ExecuteMultiple(context.Background(), []string{"echo first", "frobnicate", "echo second"})

	want := "$ echo first\nfirst\n\n$ frobnicate\nUnknown command: frobnicate\n\n$ echo second\nsecond"
	if batch.Output != want {
		t.Errorf("got %q, want %q", batch.Output, want)
	}
	if len(batch.Commands) != 3 || batch.Commands[1] != "frobnicate" {
		t.Errorf("got commands %q", batch.Commands)
	}

	var order []string
	for _, e := range sink.entries {
		order = append(order, e.Command)
	}
	if strings.Join(order, ",") != "echo first,frobnicate,echo second" {
		t.Errorf("commands logged out of order: %q", order)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	var fn int
	sink := MultiSink{a, nil, b, SinkFunc(func(context.Context, Entry) { fn++ })}

	sink.Log(context.Background(), Entry{Command: "help"})
	if len(a.entries) != 1 || len(b.entries) != 1 || fn != 1 {
		t.Errorf("entry not fanned out: %d %d %d", len(a.entries), len(b.entries), fn)
	}
}
