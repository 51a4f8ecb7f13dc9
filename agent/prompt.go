package agent

import (
	"strings"

	"cypher/provider"
)

const schemaBlockHeader = "\n\n## OUTPUT FORMAT\nYou MUST output valid JSON that conforms to the schema below.\n"

// CompilePrompt substitutes every {{key}} in template with vars[key].
// Placeholders without a binding are left as they are. The result depends
// only on its inputs.
func CompilePrompt(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{{") {
		return template
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	// Replacer picks the first matching old string at each position, and
	// "{{key}}" patterns cannot be prefixes of one another, so map order
	// does not affect the output.
	return strings.NewReplacer(pairs...).Replace(template)
}

// MergeVariables overlays call over base; call wins on conflict.
func MergeVariables(base, call map[string]string) map[string]string {
	out := copyVars(base)
	for k, v := range call {
		out[k] = v
	}
	return out
}

func schemaBlock(schema map[string]any) string {
	return schemaBlockHeader + provider.PrettySchema(schema)
}

func schemaReminder(schema map[string]any) string {
	return "Below is the JSON schema you must follow for the final answer:\n" +
		provider.PrettySchema(schema) +
		"\nYou must ONLY output JSON following this schema."
}
