package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cypher/provider"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	errStructuredOutput             = "Failed to parse structured output"
	errStructuredOutputFunctionCall = "Failed to parse structured output from functionCall"
)

const schemaResource = "cypher://agent/output.json"

type outputSchema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

func compileSchema(raw map[string]any) (*outputSchema, error) {
	if raw == nil {
		return nil, nil
	}

	// Round-trip through JSON so values decoded from YAML or TOML reach the
	// compiler in their JSON form.
	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiled, err := c.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &outputSchema{raw: raw, compiled: compiled}, nil
}

// ParseText strips code fences from text, decodes it as a JSON object and
// validates it. Numbers are kept as json.Number so large integers survive.
func (s *outputSchema) ParseText(text string) (map[string]any, error) {
	cleaned := provider.StripCodeFences(text)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	if out == nil {
		return nil, errors.New("output is not a JSON object")
	}
	if err := s.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks value against the compiled schema.
func (s *outputSchema) Validate(value map[string]any) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return err
	}
	return s.compiled.Validate(doc)
}

func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
