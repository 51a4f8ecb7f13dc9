package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cypher/model"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrDefinitionNotFound is returned when no definition file exists for an
// agent name.
var ErrDefinitionNotFound = errors.New("agent definition not found")

// PersonalityFile is the shared personality store next to the definitions.
const PersonalityFile = "personality.yaml"

// AgentFile is an agent definition as written on disk.
type AgentFile struct {
	Name              string            `yaml:"name" toml:"name"`
	Description       string            `yaml:"description" toml:"description"`
	Client            string            `yaml:"client" toml:"client"`
	Model             string            `yaml:"model" toml:"model"`
	SystemPrompt      string            `yaml:"system_prompt" toml:"system_prompt"`
	MainGoal          string            `yaml:"main_goal" toml:"main_goal"`
	DynamicVariables  map[string]string `yaml:"dynamic_variables" toml:"dynamic_variables"`
	OutputSchema      map[string]any    `yaml:"output_schema" toml:"output_schema"`
	RawTools          []map[string]any  `yaml:"tools" toml:"tools"`
	ToolChoice        string            `yaml:"tool_choice" toml:"tool_choice"`
	ParallelToolCalls bool              `yaml:"parallel_tool_calls" toml:"parallel_tool_calls"`

	// Tools is RawTools normalized; filled by LoadAgent.
	Tools []model.Tool `yaml:"-" toml:"-"`
}

var definitionExtensions = []string{".yaml", ".yml", ".toml"}

// LoadAgent reads <dir>/<name>.{yaml,yml,toml}, resolves personality
// placeholders and normalizes tool declarations.
func LoadAgent(dir, name string) (*AgentFile, error) {
	path := ""
	for _, ext := range definitionExtensions {
		candidate := filepath.Join(dir, name+ext)
		if FileExists(candidate) {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrDefinitionNotFound, name, dir)
	}

	def, err := decodeAgentFile(path)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.Client == "" {
		return nil, fmt.Errorf("agent %s: client is required", def.Name)
	}
	if def.SystemPrompt == "" {
		return nil, fmt.Errorf("agent %s: system_prompt is required", def.Name)
	}

	personality, err := LoadPersonality(dir)
	if err != nil {
		return nil, err
	}
	def.resolvePersonality(personality)

	if def.MainGoal != "" {
		if def.DynamicVariables == nil {
			def.DynamicVariables = make(map[string]string)
		}
		if _, ok := def.DynamicVariables["main_goal"]; !ok {
			def.DynamicVariables["main_goal"] = def.MainGoal
		}
	}

	tools, err := normalizeTools(def.RawTools)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.Name, err)
	}
	def.Tools = tools

	return def, nil
}

func decodeAgentFile(path string) (*AgentFile, error) {
	def := &AgentFile{}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return def, nil
}

// LoadPersonality reads personality.yaml from dir. A missing file yields
// an empty store.
func LoadPersonality(dir string) (map[string]string, error) {
	path := filepath.Join(dir, PersonalityFile)
	if !FileExists(path) {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

var personalityPattern = regexp.MustCompile(`\{\{\s*from_personality:(.*?)\}\}`)

// ResolvePersonality replaces every {{from_personality:VAR}} in s. Missing
// variables resolve to the empty string.
func ResolvePersonality(s string, personality map[string]string) string {
	return personalityPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(personalityPattern.FindStringSubmatch(match)[1])
		value, ok := personality[name]
		if !ok {
			slog.Warn("personality variable not found", "variable", name)
		}
		return value
	})
}

func (d *AgentFile) resolvePersonality(personality map[string]string) {
	d.SystemPrompt = ResolvePersonality(d.SystemPrompt, personality)
	d.MainGoal = ResolvePersonality(d.MainGoal, personality)
	for k, v := range d.DynamicVariables {
		d.DynamicVariables[k] = ResolvePersonality(v, personality)
	}
}

// normalizeTools accepts both the chat-completions shape
// {type: function, function: {...}} and a flat {name, description,
// parameters} declaration.
func normalizeTools(raw []map[string]any) ([]model.Tool, error) {
	tools := make([]model.Tool, 0, len(raw))
	for i, entry := range raw {
		body := entry
		if fn, ok := entry["function"].(map[string]any); ok {
			body = fn
		}

		name, _ := body["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tool %d has no name", i)
		}
		desc, _ := body["description"].(string)

		var params map[string]any
		switch p := body["parameters"].(type) {
		case map[string]any:
			params = p
		case nil:
		default:
			return nil, fmt.Errorf("tool %s: parameters must be an object", name)
		}

		tools = append(tools, model.Tool{Name: name, Description: desc, Parameters: params})
	}
	return tools, nil
}
