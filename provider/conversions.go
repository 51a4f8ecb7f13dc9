package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"cypher/model"
)

// ParseToolArguments parses a JSON arguments string into a map.
// Used by the OpenAI-compatible adapters, whose tool calls carry arguments
// as an encoded string. Unparseable input yields an empty map.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

// StripCodeFences removes a surrounding Markdown code block from s.
//
// Both the opening fence (with or without a language tag) and the closing
// fence are optional, so partially fenced output is handled too. The result
// is trimmed.
//
// Example:
//
//	StripCodeFences("```json\n{\"a\":1}\n```") // `{"a":1}`
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			// Opening and closing fence on one line: ```json {...}```
			s = strings.TrimPrefix(s, "```")
			if tag, body, ok := strings.Cut(s, " "); ok && isFenceTag(tag) {
				s = body
			}
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// isFenceTag reports whether s looks like a fence info string such as
// "json" or "c++".
func isFenceTag(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("+-_.", r) {
			return false
		}
	}
	return true
}

// SchemaProperties returns the properties block of a JSON schema, or the
// schema itself when it has none.
func SchemaProperties(schema map[string]any) any {
	if props, ok := schema["properties"]; ok {
		return props
	}
	return schema
}

// PrettySchema renders the properties block of schema as indented JSON.
func PrettySchema(schema map[string]any) string {
	data, err := json.MarshalIndent(SchemaProperties(schema), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DataURI encodes an image as a base64 data URI.
func DataURI(img *model.Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
}

// normalizeSchema returns a tool parameter schema with the fields every
// vendor expects, defaulting to an empty object schema.
func normalizeSchema(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// requiredFields extracts the "required" list of a schema, accepting both
// []string and the []any produced by JSON and YAML decoding.
func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// toMap converts an arbitrary JSON-compatible value into a map.
func toMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case nil:
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// assistantMessage builds the normalized assistant turn, or nil when the
// provider returned no text.
func assistantMessage(text string) *model.Message {
	if text == "" {
		return nil
	}
	return &model.Message{Role: model.RoleAssistant, Content: text}
}
