package model

import (
	"encoding/json"
	"time"
)

// SnapshotHistoryLimit bounds the history copied into a RunSnapshot.
const SnapshotHistoryLimit = 10

// RunResult is the uniform outcome of one agent run.
// Output is a string for plain and tool agents and a map[string]any for
// agents with an output schema.
type RunResult struct {
	Success       bool           `json:"success"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// OutputMap returns the structured output, or nil for plain results.
func (r RunResult) OutputMap() map[string]any {
	m, _ := r.Output.(map[string]any)
	return m
}

// RunRecord is the complete record of the most recent run of an agent.
// Only the latest record is kept; it is published to observers and never
// replayed into prompts.
type RunRecord struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agentId"`
	StartedAt        time.Time         `json:"startedAt"`
	FinishedAt       time.Time         `json:"finishedAt"`
	Input            string            `json:"inputMessage,omitempty"`
	DynamicVariables map[string]string `json:"dynamicVariables,omitempty"`
	SystemPrompt     string            `json:"systemPrompt"`
	Params           json.RawMessage   `json:"params,omitempty"`
	Response         json.RawMessage   `json:"response,omitempty"`
	Usage            *Usage            `json:"tokenUsage,omitempty"`
	AIMessage        string            `json:"aiMessage,omitempty"`
	FunctionCalls    []FunctionCall    `json:"functionCalls,omitempty"`
	Output           string            `json:"formattedOutput,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// RunSnapshot is the bounded view of a run attached to assistant messages.
// It holds copies only, so it never references live engine state.
type RunSnapshot struct {
	RunID            string            `json:"runId"`
	Input            string            `json:"inputMessage,omitempty"`
	DynamicVariables map[string]string `json:"dynamicVariables,omitempty"`
	SystemPrompt     string            `json:"systemPrompt"`
	AIMessage        string            `json:"aiMessage,omitempty"`
	FunctionCalls    []FunctionCall    `json:"functionCalls,omitempty"`
	Usage            *Usage            `json:"tokenUsage,omitempty"`
	Error            string            `json:"error,omitempty"`
	History          []Message         `json:"chatHistory,omitempty"`
}

// Snapshot builds the bounded snapshot of r using the tail of history.
func (r *RunRecord) Snapshot(history []Message) *RunSnapshot {
	if len(history) > SnapshotHistoryLimit {
		history = history[len(history)-SnapshotHistoryLimit:]
	}

	vars := make(map[string]string, len(r.DynamicVariables))
	for k, v := range r.DynamicVariables {
		vars[k] = v
	}

	var calls []FunctionCall
	if len(r.FunctionCalls) > 0 {
		calls = append(calls, r.FunctionCalls...)
	}

	var usage *Usage
	if r.Usage != nil {
		u := *r.Usage
		usage = &u
	}

	return &RunSnapshot{
		RunID:            r.ID,
		Input:            r.Input,
		DynamicVariables: vars,
		SystemPrompt:     r.SystemPrompt,
		AIMessage:        r.AIMessage,
		FunctionCalls:    calls,
		Usage:            usage,
		Error:            r.Error,
		History:          CloneMessages(history),
	}
}
