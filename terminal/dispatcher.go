package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("cypher/terminal")
	meter  = otel.GetMeterProvider().Meter("cypher/terminal")
)

// Invocation is a bound command presented to a Gate.
type Invocation struct {
	Command string
	Args    Args
	Line    string
}

// Gate decides whether a bound command may run. reason explains a block.
type Gate interface {
	Allow(ctx context.Context, inv Invocation) (allowed bool, reason string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSink sets the sink receiving every execution.
func WithSink(s LogSink) DispatcherOption {
	return func(d *Dispatcher) { d.sink = s }
}

// WithGate sets the gate consulted before each handler runs.
func WithGate(g Gate) DispatcherOption {
	return func(d *Dispatcher) { d.gate = g }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher executes command lines against a Registry.
type Dispatcher struct {
	registry *Registry
	sink     LogSink
	gate     Gate
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher returns a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Registry returns the registry commands are looked up in.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Execute runs one command line. Every failure, including a handler panic,
// is reported in the returned Execution's Output with Success false.
func (d *Dispatcher) Execute(ctx context.Context, line string) Execution {
	ctx, span := tracer.Start(ctx, "terminal.execute", trace.WithAttributes(
		attribute.String("terminal.line", line),
	))
	defer span.End()

	exec := d.execute(ctx, line)

	span.SetAttributes(attribute.Bool("terminal.success", exec.Success))
	if !exec.Success {
		span.SetStatus(codes.Error, exec.Output)
	}
	if counter, err := meter.Int64Counter("cypher.commands.executed"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("success", exec.Success)))
	}

	if d.sink != nil {
		d.sink.Log(ctx, Entry{
			Timestamp: d.now(),
			Command:   exec.Command,
			Output:    exec.Output,
			Success:   exec.Success,
		})
	}
	return exec
}

func (d *Dispatcher) execute(ctx context.Context, line string) Execution {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Execution{Output: "Error: No command provided"}
	}

	tokens := Tokenize(trimmed)
	if len(tokens) == 0 {
		return Execution{Output: "Error: No command provided"}
	}
	name := tokens[0]

	cmd, ok := d.registry.Get(name)
	if !ok {
		return Execution{Command: line, Output: "Unknown command: " + name}
	}

	args, err := BindArguments(tokens[1:], cmd.Parameters)
	if err != nil {
		return Execution{Command: line, Output: executionError(name, err)}
	}

	if d.gate != nil {
		if allowed, reason := d.gate.Allow(ctx, Invocation{Command: name, Args: args, Line: trimmed}); !allowed {
			d.logger.Warn("command blocked by policy", "command", name, "reason", reason)
			return Execution{Command: line, Output: fmt.Sprintf("Command '%s' blocked by policy: %s", name, reason)}
		}
	}

	result, err := d.invoke(ctx, cmd, args)
	if err != nil {
		return Execution{Command: line, Output: executionError(name, err)}
	}
	return Execution{Command: line, Output: result.Output, Success: true}
}

func (d *Dispatcher) invoke(ctx context.Context, cmd Command, args Args) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", "command", cmd.Name, "panic", r)
			err = fmt.Errorf("%v", r)
		}
	}()
	return cmd.Handler(ctx, args)
}

func executionError(name string, err error) string {
	return fmt.Sprintf("Error executing command '%s': %s", name, err.Error())
}

// ExecuteMultiple runs lines one after another and joins "$ <command>\n<output>"
// blocks with blank lines.
func (d *Dispatcher) ExecuteMultiple(ctx context.Context, lines []string) Batch {
	batch := Batch{Commands: make([]string, 0, len(lines))}
	blocks := make([]string, 0, len(lines))

	for _, line := range lines {
		exec := d.Execute(ctx, line)
		batch.Commands = append(batch.Commands, exec.Command)
		blocks = append(blocks, fmt.Sprintf("$ %s\n%s", exec.Command, exec.Output))
	}

	batch.Output = strings.Join(blocks, "\n\n")
	return batch
}
