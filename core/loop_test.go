package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cypher/agent"
	"cypher/model"
	"cypher/provider/testutil"
	"cypher/terminal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu         sync.Mutex
	iterations []Iteration
	maxActions [][]model.Message
	states     []bool
}

func (r *recordingListener) OnIteration(ctx context.Context, it Iteration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations = append(r.iterations, it)
}

func (r *recordingListener) OnMaxActions(ctx context.Context, history []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxActions = append(r.maxActions, history)
}

func (r *recordingListener) OnStateChange(ctx context.Context, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, active)
}

// scriptedAgent answers Run calls from a queue and records inputs.
type scriptedAgent struct {
	mu      sync.Mutex
	results []model.RunResult
	inputs  []string
	vars    []map[string]string
}

func (s *scriptedAgent) Run(ctx context.Context, input string, vars map[string]string) model.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	s.vars = append(s.vars, vars)
	if len(s.results) == 0 {
		return model.RunResult{Success: false, Error: "no more results"}
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next
}

func (s *scriptedAgent) GetFullChatHistory() []model.Message {
	return []model.Message{{Role: model.RoleSystem}}
}

func (s *scriptedAgent) GetLastUserMessage() (model.Message, bool) {
	return model.Message{}, false
}

func (s *scriptedAgent) GetLastAgentMessage() (model.Message, bool) {
	return model.Message{Role: model.RoleAssistant, Content: "last"}, true
}

func newTestDispatcher(t *testing.T, order *[]string) *terminal.Dispatcher {
	t.Helper()
	r := terminal.NewRegistry(nil)
	r.Register(terminal.HelpCommand(r))
	for _, name := range []string{"cmd1", "cmd2", "cmd3"} {
		r.Register(terminal.Command{
			Name:        name,
			Description: "test command " + name,
			Handler: func(ctx context.Context, args terminal.Args) (terminal.Result, error) {
				*order = append(*order, name)
				return terminal.Result{Output: name + " out"}, nil
			},
		})
	}
	return terminal.NewDispatcher(r)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestCommandsRunInOrderWithFeedback(t *testing.T) {
	var order []string
	r := terminal.NewRegistry(nil)
	var seenBeforeCmd2 []model.Message

	client := testutil.NewMockClient(model.ProviderOpenAI,
		testutil.OpenAITextResponse(`{"internal_thought":"t","plan":"p","terminal_commands":"cmd1; cmd2"}`),
		testutil.OpenAITextResponse(`{"internal_thought":"saw 1","plan":"p","terminal_commands":""}`),
		testutil.OpenAITextResponse(`{"internal_thought":"saw 2","plan":"p","terminal_commands":""}`),
	)
	a, err := agent.New(agent.Definition{
		Name:         "terminal",
		SystemPrompt: "Commands:\n{{terminal_commands}}",
		OutputSchema: testutil.TerminalSchema(),
	}, client)
	require.NoError(t, err)

	r.Register(
		terminal.Command{Name: "cmd1", Handler: func(ctx context.Context, args terminal.Args) (terminal.Result, error) {
			order = append(order, "cmd1")
			return terminal.Result{Output: "cmd1 out"}, nil
		}},
		terminal.Command{Name: "cmd2", Handler: func(ctx context.Context, args terminal.Args) (terminal.Result, error) {
			order = append(order, "cmd2")
			seenBeforeCmd2 = a.GetFullChatHistory()
			return terminal.Result{Output: "cmd2 out"}, nil
		}},
	)

	listener := &recordingListener{}
	loop := New(a, terminal.NewDispatcher(r),
		WithOptions(Options{MaxActions: 1}),
		WithSleep(noSleep),
		WithListener(listener),
	)

	require.NoError(t, loop.RunActive(context.Background()))
	assert.Equal(t, []string{"cmd1", "cmd2"}, order)

	// cmd1's feedback is in history before cmd2 runs.
	require.NotEmpty(t, seenBeforeCmd2)
	last := seenBeforeCmd2[len(seenBeforeCmd2)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	userLogs := 0
	for _, m := range seenBeforeCmd2 {
		if m.Role == model.RoleUser {
			userLogs++
			assert.Contains(t, m.Content, "[TERMINAL LOG]\n\ncmd1 out")
		}
	}
	assert.Equal(t, 1, userLogs)

	history := a.GetFullChatHistory()
	var roles []model.Role
	for _, m := range history {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []model.Role{
		model.RoleSystem,
		model.RoleAssistant,
		model.RoleUser, model.RoleAssistant,
		model.RoleUser, model.RoleAssistant,
	}, roles)
	assert.Contains(t, history[4].Content, "cmd2 out")

	require.Len(t, listener.iterations, 1)
	it := listener.iterations[0]
	assert.Equal(t, "t", it.InternalThought)
	assert.Equal(t, "p", it.Plan)
	assert.Equal(t, []string{"cmd1", "cmd2"}, it.Commands)
	assert.Equal(t, "$ cmd1\ncmd1 out\n\n$ cmd2\ncmd2 out", it.Output)
	require.NotNil(t, it.UserMessage)
	assert.Contains(t, it.UserMessage.Content, "cmd2 out")
	require.NotNil(t, it.AssistantMessage)
	assert.Contains(t, it.AssistantMessage.Content, "saw 2")
	assert.Nil(t, it.AssistantMessage.Run)

	assert.Equal(t, []bool{true}, listener.states)
	assert.Len(t, client.Requests(), 3)
}

func TestVariablesInjected(t *testing.T) {
	var order []string
	a := &scriptedAgent{results: []model.RunResult{{Success: true, Output: map[string]any{}}}}
	loop := New(a, newTestDispatcher(t, &order),
		WithOptions(Options{MaxActions: 1, DynamicVariables: map[string]string{"main_goal": "grow"}}),
		WithSleep(noSleep),
	)
	loop.SetDynamicVariables(map[string]string{"ticker": "CYPH"})

	require.NoError(t, loop.RunActive(context.Background()))
	require.Len(t, a.vars, 1)

	vars := a.vars[0]
	assert.Equal(t, "grow", vars["main_goal"])
	assert.Equal(t, "CYPH", vars["ticker"])
	assert.True(t, strings.HasPrefix(vars[VarTimestamp], "["))
	assert.Contains(t, vars[VarTerminalCommands], "Available commands:")
	assert.Contains(t, vars[VarTerminalCommands], "cmd3")
	assert.Equal(t, "", a.inputs[0])
}

func TestAgentFailureEndsActivePhase(t *testing.T) {
	var order []string
	a := &scriptedAgent{results: []model.RunResult{
		{Success: true, Output: map[string]any{"terminal_commands": "cmd1"}},
		{Success: false, Error: "feedback failed"},
		{Success: false, Error: "boom"},
		{Success: true, Output: map[string]any{}},
	}}
	listener := &recordingListener{}
	var sleeps []time.Duration
	loop := New(a, newTestDispatcher(t, &order),
		WithOptions(Options{MaxActions: 5, ActionCooldown: time.Second}),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
		WithListener(listener),
	)

	require.NoError(t, loop.RunActive(context.Background()))

	// A failed feedback run does not stop the batch or the phase; a failed
	// action run does.
	assert.Equal(t, []string{"cmd1"}, order)
	assert.Len(t, listener.iterations, 1)
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
	assert.Len(t, a.inputs, 3)
}

func TestRunIdlesBetweenPhasesAndStopsOnCancel(t *testing.T) {
	var order []string
	a := &scriptedAgent{results: []model.RunResult{
		{Success: true, Output: `{"terminal_commands": ["cmd1", {"command": "cmd2"}]}`},
		{Success: true, Output: "ok"},
		{Success: true, Output: "ok"},
		{Success: true, Output: map[string]any{}},
	}}
	listener := &recordingListener{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	loop := New(a, newTestDispatcher(t, &order),
		WithOptions(Options{MaxActions: 2, ActionCooldown: time.Minute, IdleMin: 30 * time.Minute, IdleMax: 60 * time.Minute}),
		WithRand(func(n int64) int64 {
			assert.Equal(t, int64(30*time.Minute)+1, n)
			return int64(10 * time.Minute)
		}),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			if d == 40*time.Minute {
				cancel()
				return ctx.Err()
			}
			return nil
		}),
		WithListener(listener),
	)

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"cmd1", "cmd2"}, order)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, 40 * time.Minute}, sleeps)
	assert.Len(t, listener.iterations, 2)
	assert.Len(t, listener.maxActions, 1)
	assert.Equal(t, []bool{true, false}, listener.states)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name   string
		output any
		want   action
	}{
		{
			name:   "semicolons and newlines",
			output: map[string]any{"terminal_commands": "cmd1; cmd2\n\n cmd3 ;", "plan": "p"},
			want:   action{Plan: "p", Commands: []string{"cmd1", "cmd2", "cmd3"}},
		},
		{
			name:   "array of strings and objects",
			output: map[string]any{"terminal_commands": []any{"a", map[string]any{"command": "b"}, 3, ""}},
			want:   action{Commands: []string{"a", "b"}},
		},
		{
			name:   "fenced json string",
			output: "```json\n{\"internal_thought\":\"t\",\"terminal_commands\":\"help\"}\n```",
			want:   action{InternalThought: "t", Commands: []string{"help"}},
		},
		{
			name:   "plain text",
			output: "just thinking",
			want:   action{},
		},
		{
			name:   "empty commands",
			output: map[string]any{"terminal_commands": ""},
			want:   action{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAction(tt.output))
		})
	}
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestSessionID(t *testing.T) {
	var order []string
	d := newTestDispatcher(t, &order)

	generated := New(&scriptedAgent{}, d)
	assert.NotEmpty(t, generated.SessionID())
	assert.NotEqual(t, generated.SessionID(), New(&scriptedAgent{}, d).SessionID())

	fixed := New(&scriptedAgent{}, d, WithSessionID("session-1"))
	assert.Equal(t, "session-1", fixed.SessionID())

	require.NotEmpty(t, New(&scriptedAgent{}, d, WithSessionID("")).SessionID())
}
