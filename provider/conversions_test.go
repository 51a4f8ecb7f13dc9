package provider

import (
	"testing"

	"cypher/model"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", "  {\"a\":1}\n", `{"a":1}`},
		{"only opening fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"only closing fence", "{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "\n\n```json\n{\"a\":1}\n```\n", `{"a":1}`},
		{"single line json fence", "```json {\"a\":1}```", `{"a":1}`},
		{"single line bare fence", "```{\"a\":1}```", `{"a":1}`},
		{"single line padded fence", "``` {\"a\":1} ```", `{"a":1}`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]any
	}{
		{"object", `{"city":"Paris","days":3}`, map[string]any{"city": "Paris", "days": float64(3)}},
		{"empty string", "", map[string]any{}},
		{"invalid json", "{not json", map[string]any{}},
		{"null", "null", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseToolArguments(tt.input)
			if got == nil {
				t.Fatal("expected non-nil map")
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.expected))
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("%s: got %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestPrettySchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan": map[string]any{"type": "string"},
		},
	}
	want := "{\n  \"plan\": {\n    \"type\": \"string\"\n  }\n}"
	if got := PrettySchema(schema); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDataURI(t *testing.T) {
	img := &model.Image{Name: "a.png", MIME: "image/png", Data: []byte("abc")}
	if got, want := DataURI(img), "data:image/png;base64,YWJj"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeSchema(t *testing.T) {
	got := normalizeSchema(nil)
	if got["type"] != "object" {
		t.Errorf("type: got %v, want object", got["type"])
	}
	if _, ok := got["properties"].(map[string]any); !ok {
		t.Errorf("properties: got %T, want map", got["properties"])
	}

	required := requiredFields(map[string]any{"required": []any{"a", 1, "b"}})
	if len(required) != 2 || required[0] != "a" || required[1] != "b" {
		t.Errorf("requiredFields: got %v", required)
	}
}
