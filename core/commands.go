package core

import (
	"encoding/json"
	"regexp"
	"strings"

	"cypher/model"
	"cypher/provider"
)

var commandSeparator = regexp.MustCompile(`[\n;]`)

// action is the part of a structured agent output the loop acts on.
type action struct {
	InternalThought string
	Plan            string
	Commands        []string
}

// parseAction extracts internal_thought, plan and terminal_commands from a
// run output. Plain string outputs are decoded as JSON first; anything that
// is not an object yields an empty action.
func parseAction(output any) action {
	var doc map[string]any
	switch v := output.(type) {
	case map[string]any:
		doc = v
	case string:
		if err := json.Unmarshal([]byte(provider.StripCodeFences(v)), &doc); err != nil {
			return action{}
		}
	default:
		return action{}
	}

	a := action{
		InternalThought: stringField(doc, "internal_thought"),
		Plan:            stringField(doc, "plan"),
	}
	a.Commands = splitCommands(doc["terminal_commands"])
	return a
}

// splitCommands accepts a string separated by newlines or semicolons, or an
// array of strings and {"command": "..."} objects.
func splitCommands(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = commandSeparator.Split(v, -1)
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				if cmd, ok := it["command"].(string); ok {
					parts = append(parts, cmd)
				}
			}
		}
	case []string:
		parts = v
	}

	var cmds []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cmds = append(cmds, p)
		}
	}
	return cmds
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// optionalMessage returns a copy of msg, or nil when it is missing or empty.
func optionalMessage(msg model.Message, ok bool) *model.Message {
	if !ok || msg.Content == "" {
		return nil
	}
	m := msg.Clone()
	return &m
}
