// Package agent implements the agent run engine: it owns one conversation,
// compiles the system prompt for every run, calls the model through a
// provider adapter and turns the response into a uniform model.RunResult.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cypher/model"
	"cypher/provider"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cypher/agent")

// Option configures an Agent.
type Option func(*options)

type options struct {
	observer Observer
	logger   *slog.Logger
	adapter  provider.Adapter
}

// WithObserver sets the observer notified of every state change.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithLogger sets the logger. If not set, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithAdapter replaces the adapter derived from the client's provider.
func WithAdapter(a provider.Adapter) Option {
	return func(opts *options) { opts.adapter = a }
}

// Agent is a stateful conversation driving one model.
//
// Run calls are serialized. History accessors may be used concurrently with
// a running Run.
type Agent struct {
	id       string
	def      Definition
	client   model.Client
	adapter  provider.Adapter
	schema   *outputSchema
	observer Observer
	logger   *slog.Logger

	runMu sync.Mutex

	mu             sync.RWMutex
	history        []model.Message
	schemaReminded bool
	lastRun        *model.RunRecord
	lastResponse   string
}

// New builds an agent for def that talks to the model through client.
func New(def Definition, client model.Client, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, errors.New("agent: client is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	adapter := o.adapter
	if adapter == nil {
		var err error
		adapter, err = provider.NewAdapter(client.Provider())
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.Name, err)
		}
	}

	schema, err := compileSchema(def.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.Name, err)
	}

	def = def.clone()
	if def.Name == "" {
		def.Name = "agent"
	}
	if def.Provider == "" {
		def.Provider = client.Provider()
	}

	observer := o.observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		id:       uuid.NewString(),
		def:      def,
		client:   client,
		adapter:  adapter,
		schema:   schema,
		observer: observer,
		logger:   logger.With("agent", def.Name),
		history: []model.Message{
			{Role: model.RoleSystem, Timestamp: time.Now()},
		},
	}

	a.observer.AgentRegistered(a.id, def.Name)
	a.notifyHistory()
	return a, nil
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Name() string { return a.def.Name }

// Definition returns a copy of the agent's definition.
func (a *Agent) Definition() Definition { return a.def.clone() }

// SupportsImages reports whether image attachments reach the model.
func (a *Agent) SupportsImages() bool { return a.adapter.SupportsImages() }

// LastRun returns the record of the most recent run, or nil.
func (a *Agent) LastRun() *model.RunRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRun
}

// LastResponse returns the assistant text of the most recent successful
// model call.
func (a *Agent) LastResponse() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastResponse
}

// schemaMode reports whether runs request schema-constrained output.
func (a *Agent) schemaMode() bool {
	return a.schema != nil && len(a.def.Tools) == 0
}

// Run asks the model for the next turn. input, when non-empty, is appended
// as a user message first. vars are merged over the definition's variables
// for prompt compilation. Failures are returned in the result, never as a
// panic or error.
func (a *Agent) Run(ctx context.Context, input string, vars map[string]string) (result model.RunResult) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.name", a.def.Name),
		attribute.String("agent.provider", string(a.adapter.Provider())),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("agent.success", result.Success))
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
	}()

	merged := MergeVariables(a.def.DynamicVariables, vars)
	prompt := CompilePrompt(a.def.SystemPrompt, merged)
	schemaMode := a.schemaMode()
	if schemaMode {
		prompt += schemaBlock(a.def.OutputSchema)
	}

	record := &model.RunRecord{
		ID:               uuid.NewString(),
		AgentID:          a.id,
		StartedAt:        time.Now(),
		Input:            input,
		DynamicVariables: merged,
		SystemPrompt:     prompt,
	}

	a.mu.Lock()
	a.history[0].Content = prompt
	a.history[0].Timestamp = record.StartedAt
	if schemaMode && !a.adapter.NativeSchema() && !a.schemaReminded {
		a.history = append(a.history, model.Message{
			Role:      model.RoleAssistant,
			Content:   schemaReminder(a.def.OutputSchema),
			Timestamp: time.Now(),
		})
		a.schemaReminded = true
	}
	if input != "" {
		a.history = append(a.history, model.Message{
			Role:      model.RoleUser,
			Content:   input,
			Timestamp: time.Now(),
		})
	}
	messages := model.CloneMessages(a.history)
	a.mu.Unlock()

	a.observer.SystemPromptUpdated(a.id, prompt)
	a.notifyHistory()

	in := provider.ParamsInput{
		Model:        a.def.Model,
		Messages:     messages,
		SystemPrompt: prompt,
	}
	if schemaMode {
		in.OutputSchema = a.def.OutputSchema
	} else if len(a.def.Tools) > 0 {
		in.Tools = a.adapter.FormatTools(a.def.Tools, a.schema != nil)
		in.ToolChoice = a.adapter.BuildToolChoice(a.def.Tools, a.def.ToolChoice)
	}

	req, err := a.adapter.BuildParams(in)
	if err != nil {
		return a.fail(record, fmt.Errorf("build request: %w", err))
	}
	record.Params = encodeJSON(req.Payload)

	resp, err := a.client.ChatCompletion(ctx, req)
	if err != nil {
		return a.fail(record, err)
	}
	if resp == nil {
		return a.fail(record, errors.New("empty response from model"))
	}
	record.Response = stripUsage(resp.Raw)
	record.Usage = resp.Usage

	processed, err := a.adapter.ProcessResponse(resp)
	if err != nil {
		return a.fail(record, err)
	}

	var text string
	if processed.AIMessage != nil {
		text = processed.AIMessage.Content
	}
	record.AIMessage = text

	content, result := a.resolve(text, processed.FunctionCalls, schemaMode)
	record.FunctionCalls = result.FunctionCalls
	record.Output = content
	record.Error = result.Error
	record.FinishedAt = time.Now()

	a.mu.Lock()
	if content != "" {
		a.history = append(a.history, model.Message{
			Role:      model.RoleAssistant,
			Content:   content,
			Run:       record.Snapshot(a.history),
			Timestamp: record.FinishedAt,
		})
	}
	a.lastRun = record
	a.lastResponse = text
	a.mu.Unlock()

	a.observer.AIResponseUpdated(a.id, text)
	a.notifyHistory()
	a.observer.LastRunDataUpdated(a.id, record)

	if !result.Success {
		a.logger.Warn("agent run failed", "error", result.Error)
	}
	return result
}

// resolve applies the response policy: function calls first, then
// structured output, then plain text. It returns the assistant content to
// append and the run result.
func (a *Agent) resolve(text string, calls []model.FunctionCall, schemaMode bool) (string, model.RunResult) {
	if len(calls) > 0 {
		if !a.def.ParallelToolCalls {
			calls = calls[:1]
		}
		content := FormatFunctionCalls(calls, a.def.ParallelToolCalls)

		if schemaMode {
			args := calls[0].Arguments
			if err := a.schema.Validate(args); err != nil {
				a.logger.Debug("structured function call rejected", "error", err)
				return content, model.RunResult{Success: false, Error: errStructuredOutputFunctionCall}
			}
			return content, model.RunResult{Success: true, Output: args, FunctionCalls: calls}
		}
		return content, model.RunResult{Success: true, Output: content, FunctionCalls: calls}
	}

	if schemaMode {
		content := strings.TrimSpace(text)
		parsed, err := a.schema.ParseText(text)
		if err != nil {
			a.logger.Debug("structured output rejected", "error", err)
			return content, model.RunResult{Success: false, Error: errStructuredOutput}
		}
		return content, model.RunResult{Success: true, Output: parsed}
	}

	return text, model.RunResult{Success: true, Output: text}
}

func (a *Agent) fail(record *model.RunRecord, err error) model.RunResult {
	record.Error = err.Error()
	record.FinishedAt = time.Now()

	a.mu.Lock()
	a.lastRun = record
	a.mu.Unlock()

	a.observer.LastRunDataUpdated(a.id, record)
	a.logger.Error("agent run failed", "error", err)
	return model.RunResult{Success: false, Error: err.Error()}
}

func encodeJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// usageKeys are the token accounting fields of the supported providers.
var usageKeys = []string{
	"usage",
	"usageMetadata",
	"usage_metadata",
	"prompt_eval_count",
	"prompt_eval_duration",
	"eval_count",
	"eval_duration",
}

// stripUsage encodes a raw provider response without its token usage,
// which is recorded separately.
func stripUsage(raw any) json.RawMessage {
	data := encodeJSON(raw)
	if data == nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	for _, k := range usageKeys {
		delete(fields, k)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
