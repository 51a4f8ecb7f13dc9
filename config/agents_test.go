package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

const terminalAgentYAML = `
name: terminalAgent
description: Drives the terminal
client: anthropic
model: claude-3-5-sonnet-20241022
main_goal: "{{from_personality:goal}}"
system_prompt: |
  You are {{from_personality:name}}. Again, {{from_personality:name}}.
  Mood: {{from_personality:mood}}
  Commands:
  {{terminal_commands}}
dynamic_variables:
  tone: "{{from_personality:tone}}"
output_schema:
  type: object
  properties:
    internal_thought:
      type: string
    terminal_commands:
      type: string
  required: [internal_thought, terminal_commands]
tools:
  - type: function
    function:
      name: use_terminal
      description: Run terminal commands
      parameters:
        type: object
        properties:
          command:
            type: string
  - name: flat_tool
    description: Declared without the wrapper
tool_choice: use_terminal
`

const personalityYAML = `
name: Cypher
goal: explore
tone: dry
`

func TestLoadAgent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "terminalAgent.yaml", terminalAgentYAML)
	writeFile(t, dir, PersonalityFile, personalityYAML)

	def, err := LoadAgent(dir, "terminalAgent")
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}

	wantPrompt := "You are Cypher. Again, Cypher.\nMood: \nCommands:\n{{terminal_commands}}\n"
	if def.SystemPrompt != wantPrompt {
		t.Errorf("got prompt %q, want %q", def.SystemPrompt, wantPrompt)
	}
	if def.MainGoal != "explore" {
		t.Errorf("got main goal %q, want %q", def.MainGoal, "explore")
	}
	if def.DynamicVariables["main_goal"] != "explore" {
		t.Errorf("main_goal not exposed as a variable: %v", def.DynamicVariables)
	}
	if def.DynamicVariables["tone"] != "dry" {
		t.Errorf("got tone %q, want %q", def.DynamicVariables["tone"], "dry")
	}

	if len(def.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(def.Tools))
	}
	if def.Tools[0].Name != "use_terminal" || def.Tools[0].Parameters == nil {
		t.Errorf("unexpected first tool: %+v", def.Tools[0])
	}
	if def.Tools[1].Name != "flat_tool" || def.Tools[1].Parameters != nil {
		t.Errorf("unexpected second tool: %+v", def.Tools[1])
	}
	if def.ToolChoice != "use_terminal" {
		t.Errorf("got tool choice %q, want %q", def.ToolChoice, "use_terminal")
	}

	required, ok := def.OutputSchema["required"].([]any)
	if !ok || len(required) != 2 {
		t.Errorf("unexpected schema required list: %#v", def.OutputSchema["required"])
	}
}

func TestLoadAgentTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "helper.toml", `
client = "openai"
system_prompt = "Hello {{from_personality:name}}"
`)

	def, err := LoadAgent(dir, "helper")
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if def.Name != "helper" {
		t.Errorf("got name %q, want %q", def.Name, "helper")
	}
	// no personality file: placeholders resolve to empty
	if def.SystemPrompt != "Hello " {
		t.Errorf("got prompt %q, want %q", def.SystemPrompt, "Hello ")
	}
}

func TestLoadAgentErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "noclient.yaml", "system_prompt: hi\n")
	writeFile(t, dir, "noprompt.yaml", "client: openai\n")
	writeFile(t, dir, "badtool.yaml", "client: openai\nsystem_prompt: hi\ntools:\n  - description: nameless\n")

	if _, err := LoadAgent(dir, "missing"); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("got %v, want ErrDefinitionNotFound", err)
	}
	for _, name := range []string{"noclient", "noprompt", "badtool"} {
		if _, err := LoadAgent(dir, name); err == nil {
			t.Errorf("LoadAgent(%q): expected error", name)
		}
	}
}

func TestResolvePersonality(t *testing.T) {
	personality := map[string]string{"name": "Cypher", "goal": "explore"}

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"{{from_personality:name}}", "Cypher"},
		{"{{from_personality:name}} and {{from_personality:name}}", "Cypher and Cypher"},
		{"{{ from_personality:goal }}!", "explore!"},
		{"[{{from_personality:missing}}]", "[]"},
		{"{{name}} stays", "{{name}} stays"},
	}
	for _, tt := range tests {
		if got := ResolvePersonality(tt.in, personality); got != tt.want {
			t.Errorf("ResolvePersonality(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
