// Package policy gates terminal commands with an OPA Rego module.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cypher/terminal"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by a policy module.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine evaluates the command_policy package for each command.
type Engine struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewEngine prepares policyContent for evaluation.
func NewEngine(ctx context.Context, policyContent string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := rego.New(
		rego.Query("data.command_policy"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, logger: logger}, nil
}

// Load reads the policy module at path, or uses DefaultPolicy when path is
// empty.
func Load(ctx context.Context, path string, logger *slog.Logger) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content, logger)
}

// Evaluate returns the decision and optional reason for inv.
func (e *Engine) Evaluate(ctx context.Context, inv terminal.Invocation) (string, string, error) {
	input := map[string]any{
		"command": inv.Command,
		"args":    toInput(inv.Args),
		"line":    inv.Line,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}

	decision, _ := doc["decision"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	reason, _ := doc["reason"].(string)
	return decision, reason, nil
}

// Allow implements terminal.Gate. Evaluation errors and unknown decisions
// block the command.
func (e *Engine) Allow(ctx context.Context, inv terminal.Invocation) (bool, string) {
	decision, reason, err := e.Evaluate(ctx, inv)
	if err != nil {
		e.logger.Error("policy evaluation failed", "command", inv.Command, "error", err)
		return false, "policy evaluation failed"
	}

	switch decision {
	case DecisionAllow:
		return true, ""
	case DecisionBlock:
		if reason == "" {
			reason = "denied"
		}
		return false, reason
	default:
		return false, fmt.Sprintf("unknown decision %q", decision)
	}
}

// toInput converts bound arguments to plain JSON-compatible values.
func toInput(args terminal.Args) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if list, ok := v.([]string); ok {
			items := make([]any, len(list))
			for i, s := range list {
				items[i] = s
			}
			out[k] = items
			continue
		}
		out[k] = v
	}
	return out
}

// DefaultPolicy allows every command.
const DefaultPolicy = `
package command_policy

default decision = "allow"
`
