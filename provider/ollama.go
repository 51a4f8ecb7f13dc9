package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cypher/config"
	"cypher/model"
	"cypher/ollama"

	"github.com/ollama/ollama/api"
)

// OllamaAdapter implements Adapter for models served by a local Ollama
// server. Requests are non-streaming; schema mode uses Ollama's structured
// "format" field.
type OllamaAdapter struct{}

// NewOllamaAdapter returns the Ollama adapter.
func NewOllamaAdapter() *OllamaAdapter { return &OllamaAdapter{} }

// Provider implements Adapter.
func (a *OllamaAdapter) Provider() model.Provider { return model.ProviderOllama }

// SupportsImages implements Adapter.
func (a *OllamaAdapter) SupportsImages() bool { return true }

// NativeSchema implements Adapter.
func (a *OllamaAdapter) NativeSchema() bool { return true }

// BuildParams implements Adapter.
//
// This method handles all necessary type conversions:
//   - model.Message to api.Message (images become raw byte attachments)
//   - formatted tools are passed through as api.Tools
//   - the output schema becomes the request's JSON format
func (a *OllamaAdapter) BuildParams(in ParamsInput) (model.Request, error) {
	req := &api.ChatRequest{
		Model:    in.Model,
		Messages: ConvertToOllamaMessages(in.Messages),
		Options: map[string]any{
			"temperature": DefaultTemperature,
			"num_predict": DefaultMaxTokens,
		},
	}

	if tools, ok := in.Tools.(api.Tools); ok && len(tools) > 0 {
		req.Tools = tools
		if !ollama.ModelSupportsToolCalling(in.Model) {
			slog.Warn("ollama model may not support tool calling", "model", in.Model)
		}
	} else if in.OutputSchema != nil {
		format, err := json.Marshal(in.OutputSchema)
		if err != nil {
			return model.Request{}, fmt.Errorf("encode output schema: %w", err)
		}
		req.Format = format
	}

	return model.Request{Provider: model.ProviderOllama, Model: in.Model, Payload: req}, nil
}

// ConvertToOllamaMessages converts normalized messages to Ollama messages.
// Function results are sent as user turns.
//
// Example:
//
//	msgs := []model.Message{
//	    {Role: model.RoleUser, Content: "Hello"},
//	    {Role: model.RoleAssistant, Content: "Hi there!"},
//	}
//	ollamaMessages := ConvertToOllamaMessages(msgs)
func ConvertToOllamaMessages(messages []model.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		role := string(msg.Role)
		if msg.Role == model.RoleFunction {
			role = string(model.RoleUser)
		}
		result[i] = api.Message{
			Role:    role,
			Content: msg.Content,
		}
		if msg.Image.Valid() {
			result[i].Images = []api.ImageData{msg.Image.Data}
		}
	}
	return result
}

// ConvertToProviderToolCalls converts Ollama tool calls to normalized
// function calls. Returns nil for an empty input.
func ConvertToProviderToolCalls(ollamaCalls []api.ToolCall) []model.FunctionCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]model.FunctionCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		args := make(map[string]any, len(call.Function.Arguments))
		for k, v := range call.Function.Arguments {
			args[k] = v
		}
		result[i] = model.FunctionCall{
			Name:      call.Function.Name,
			Arguments: args,
		}
	}
	return result
}

// FormatTools implements Adapter.
func (a *OllamaAdapter) FormatTools(tools []model.Tool, strict bool) any {
	out := make(api.Tools, 0, len(tools))
	for _, tool := range tools {
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertSchemaToParameters(normalizeSchema(tool.Parameters)),
			},
		})
	}
	return out
}

// BuildToolChoice implements Adapter. Ollama has no tool-choice control.
func (a *OllamaAdapter) BuildToolChoice(tools []model.Tool, forced string) any {
	return nil
}

// ProcessResponse implements Adapter.
func (a *OllamaAdapter) ProcessResponse(resp *model.Response) (Processed, error) {
	chat, ok := resp.Raw.(*api.ChatResponse)
	if !ok {
		return Processed{}, fmt.Errorf("ollama: unexpected response type %T", resp.Raw)
	}
	return Processed{
		AIMessage:     assistantMessage(chat.Message.Content),
		FunctionCalls: ConvertToProviderToolCalls(chat.Message.ToolCalls),
	}, nil
}

// convertSchemaToParameters converts a JSON-Schema object to Ollama's
// ToolFunctionParameters.
func convertSchemaToParameters(schema map[string]any) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{
		Type:       "object",
		Required:   requiredFields(schema),
		Properties: make(map[string]api.ToolProperty),
	}
	if t, ok := schema["type"].(string); ok {
		params.Type = t
	}
	if defs, ok := schema["$defs"]; ok {
		params.Defs = defs
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for name, value := range props {
			params.Properties[name] = convertPropertyValue(value)
		}
	}
	return params
}

// convertPropertyValue converts one schema property to an Ollama ToolProperty.
func convertPropertyValue(value any) api.ToolProperty {
	prop := api.ToolProperty{}

	propMap := toMap(value)
	if propMap == nil {
		return prop
	}

	// type can be a string or a list of strings
	switch t := propMap["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	case []any:
		types := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
		prop.Type = api.PropertyType(types)
	}

	if desc, ok := propMap["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := propMap["enum"].([]any); ok {
		prop.Enum = enum
	}
	if items, ok := propMap["items"]; ok {
		prop.Items = items
	}
	if anyOf, ok := propMap["anyOf"].([]any); ok {
		variants := make([]api.ToolProperty, 0, len(anyOf))
		for _, item := range anyOf {
			variants = append(variants, convertPropertyValue(item))
		}
		prop.AnyOf = variants
	}

	return prop
}

// OllamaClient sends requests to a local Ollama server.
type OllamaClient struct {
	client *ollama.Client
}

// NewOllamaClient creates a client for the Ollama server at baseURL
// (default "http://localhost:11434").
func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	client, err := ollama.NewClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaClient{client: client}, nil
}

// Provider implements model.Client.
func (c *OllamaClient) Provider() model.Provider { return model.ProviderOllama }

// Ping checks that the server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// ChatCompletion implements model.Client.
func (c *OllamaClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	chatReq, ok := req.Payload.(*api.ChatRequest)
	if !ok {
		return nil, fmt.Errorf("ollama: unexpected payload type %T", req.Payload)
	}

	if config.Debug {
		config.DebugLog.Printf("[ollama] chat: model=%s messages=%d tools=%d", chatReq.Model, len(chatReq.Messages), len(chatReq.Tools))
	}

	resp, err := c.client.Chat(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	prompt := int64(resp.Metrics.PromptEvalCount)
	completion := int64(resp.Metrics.EvalCount)
	return &model.Response{
		Raw: resp,
		Usage: &model.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}
