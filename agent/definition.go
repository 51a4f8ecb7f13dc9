package agent

import (
	"errors"

	"cypher/model"
)

// ErrInvalidSchema is returned by New when the output schema does not
// compile.
var ErrInvalidSchema = errors.New("invalid output schema")

// Definition is the static configuration of an agent. It is copied at
// construction and never changed afterwards.
type Definition struct {
	Name         string
	Description  string
	Provider     model.Provider
	Model        string
	SystemPrompt string

	// DynamicVariables are defaults merged under the caller's variables on
	// every run.
	DynamicVariables map[string]string

	OutputSchema map[string]any
	Tools        []model.Tool

	// ToolChoice forces a single tool by name; empty means auto.
	ToolChoice        string
	ParallelToolCalls bool
}

func (d Definition) clone() Definition {
	out := d
	out.DynamicVariables = copyVars(d.DynamicVariables)
	out.Tools = append([]model.Tool(nil), d.Tools...)
	return out
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
