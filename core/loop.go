// Package core drives an agent through the terminal: it alternates between
// an active phase, where the agent issues commands and reads their output,
// and an idle phase of random length.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"cypher/model"
	"cypher/terminal"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("cypher/core")
	meter  = otel.GetMeterProvider().Meter("cypher/core")
)

// Variables injected into every run of the loop.
const (
	VarTimestamp        = "current_timestamp"
	VarTerminalCommands = "terminal_commands"
)

// Agent is the part of *agent.Agent the loop uses.
type Agent interface {
	Run(ctx context.Context, input string, vars map[string]string) model.RunResult
	GetFullChatHistory() []model.Message
	GetLastUserMessage() (model.Message, bool)
	GetLastAgentMessage() (model.Message, bool)
}

// Options bounds the active and idle phases.
type Options struct {
	MaxActions       int
	ActionCooldown   time.Duration
	IdleMin          time.Duration
	IdleMax          time.Duration
	DynamicVariables map[string]string
}

// DefaultOptions returns 20 actions two minutes apart, then 30 to 60
// minutes idle.
func DefaultOptions() Options {
	return Options{
		MaxActions:     20,
		ActionCooldown: 2 * time.Minute,
		IdleMin:        30 * time.Minute,
		IdleMax:        60 * time.Minute,
	}
}

// Iteration is emitted after every completed action.
type Iteration struct {
	Number           int            `json:"number"`
	UserMessage      *model.Message `json:"userMessage,omitempty"`
	AssistantMessage *model.Message `json:"assistantMessage,omitempty"`
	InternalThought  string         `json:"internalThought,omitempty"`
	Plan             string         `json:"plan,omitempty"`
	Commands         []string       `json:"commands,omitempty"`
	Output           string         `json:"output,omitempty"`
}

// Listener receives loop events. Calls are synchronous and happen on the
// loop goroutine.
type Listener interface {
	OnIteration(ctx context.Context, it Iteration)
	OnMaxActions(ctx context.Context, history []model.Message)
	OnStateChange(ctx context.Context, active bool)
}

// Option configures a Loop.
type Option func(*Loop)

// WithOptions replaces the phase bounds.
func WithOptions(o Options) Option {
	return func(l *Loop) {
		vars := l.opts.DynamicVariables
		l.opts = o
		l.opts.DynamicVariables = mergeVars(vars, o.DynamicVariables)
	}
}

// WithLogger sets the logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithListener adds a listener.
func WithListener(li Listener) Option {
	return func(l *Loop) { l.listeners = append(l.listeners, li) }
}

// WithSessionID sets the session ID instead of generating one.
func WithSessionID(id string) Option {
	return func(l *Loop) {
		if id != "" {
			l.sessionID = id
		}
	}
}

// WithSleep replaces the context-aware sleep used for cooldown and idle.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// WithRand replaces the source of the idle duration. randN returns a value
// in [0, n).
func WithRand(randN func(n int64) int64) Option {
	return func(l *Loop) { l.randN = randN }
}

// Loop is the terminal run loop.
type Loop struct {
	agent      Agent
	dispatcher *terminal.Dispatcher
	logger     *slog.Logger
	sessionID  string
	sleep      func(ctx context.Context, d time.Duration) error
	randN      func(n int64) int64

	mu        sync.Mutex
	opts      Options
	listeners []Listener
}

// New returns a loop that runs agent against dispatcher.
func New(agent Agent, dispatcher *terminal.Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		agent:      agent,
		dispatcher: dispatcher,
		sessionID:  uuid.New().String(),
		sleep:      sleepContext,
		randN:      rand.Int64N,
		opts:       DefaultOptions(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// SessionID identifies this loop's run in persisted records.
func (l *Loop) SessionID() string { return l.sessionID }

// SetDynamicVariables merges vars into the variables passed to every run.
func (l *Loop) SetDynamicVariables(vars map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts.DynamicVariables = mergeVars(l.opts.DynamicVariables, vars)
}

// AddListener registers li for subsequent events.
func (l *Loop) AddListener(li Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, li)
}

// Run alternates active and idle phases until ctx is done, then returns
// ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("starting terminal loop", "session", l.sessionID)

	for {
		if err := l.RunActive(ctx); err != nil {
			return err
		}

		l.emitMaxActions(ctx, l.agent.GetFullChatHistory())
		l.emitStateChange(ctx, false)

		idle := l.idleDuration()
		l.logger.Info("entering idle mode", "duration", idle)
		if err := l.sleep(ctx, idle); err != nil {
			return err
		}
		l.logger.Info("resuming active mode")
	}
}

// RunActive runs one active phase: up to MaxActions actions separated by the
// cooldown. An agent failure ends the phase early. Only cancellation is
// returned as an error.
func (l *Loop) RunActive(ctx context.Context) error {
	l.emitStateChange(ctx, true)
	opts := l.options()

	for n := 1; n <= opts.MaxActions; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if ok := l.step(ctx, n); !ok {
			break
		}

		if err := l.sleep(ctx, opts.ActionCooldown); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// step performs one action and reports whether the agent run succeeded.
func (l *Loop) step(ctx context.Context, n int) bool {
	ctx, span := tracer.Start(ctx, "core.iteration", trace.WithAttributes(
		attribute.String("session.id", l.sessionID),
		attribute.Int("iteration", n),
	))
	defer span.End()

	vars := l.variables()
	result := l.agent.Run(ctx, "", vars)
	if !result.Success {
		l.logger.Error("agent failed", "iteration", n, "error", result.Error)
		span.SetAttributes(attribute.Bool("core.success", false))
		return false
	}

	act := parseAction(result.Output)
	it := Iteration{
		Number:          n,
		InternalThought: act.InternalThought,
		Plan:            act.Plan,
	}

	var blocks []string
	for _, line := range act.Commands {
		exec := l.dispatcher.Execute(ctx, line)
		it.Commands = append(it.Commands, line)
		blocks = append(blocks, fmt.Sprintf("$ %s\n%s", line, exec.Output))

		feedback := fmt.Sprintf("%s - [TERMINAL LOG]\n\n%s", terminal.CurrentTimestamp(), exec.Output)
		if res := l.agent.Run(ctx, feedback, vars); !res.Success {
			l.logger.Error("error feeding terminal log back to agent", "command", line, "error", res.Error)
		}
	}
	it.Output = strings.Join(blocks, "\n\n")

	if len(it.Commands) > 0 {
		it.UserMessage = optionalMessage(l.agent.GetLastUserMessage())
	}
	it.AssistantMessage = optionalMessage(l.agent.GetLastAgentMessage())

	span.SetAttributes(
		attribute.Bool("core.success", true),
		attribute.Int("core.commands", len(it.Commands)),
	)
	if counter, err := meter.Int64Counter("cypher.loop.iterations"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.Int("commands", len(it.Commands))))
	}

	l.emitIteration(ctx, it)
	return true
}

func (l *Loop) variables() map[string]string {
	l.mu.Lock()
	base := l.opts.DynamicVariables
	l.mu.Unlock()

	return mergeVars(base, map[string]string{
		VarTimestamp:        terminal.CurrentTimestamp(),
		VarTerminalCommands: l.dispatcher.Registry().HelpText(),
	})
}

func (l *Loop) options() Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

func (l *Loop) idleDuration() time.Duration {
	opts := l.options()
	idle := opts.IdleMin
	if span := opts.IdleMax - opts.IdleMin; span > 0 {
		idle += time.Duration(l.randN(int64(span) + 1))
	}
	return idle
}

func (l *Loop) snapshotListeners() []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Listener(nil), l.listeners...)
}

func (l *Loop) emitIteration(ctx context.Context, it Iteration) {
	for _, li := range l.snapshotListeners() {
		li.OnIteration(ctx, it)
	}
}

func (l *Loop) emitMaxActions(ctx context.Context, history []model.Message) {
	for _, li := range l.snapshotListeners() {
		li.OnMaxActions(ctx, history)
	}
}

func (l *Loop) emitStateChange(ctx context.Context, active bool) {
	for _, li := range l.snapshotListeners() {
		li.OnStateChange(ctx, active)
	}
}

func mergeVars(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
