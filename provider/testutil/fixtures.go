package testutil

import (
	"encoding/json"
	"time"

	"cypher/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{Role: model.RoleSystem, Content: "You are a test agent.", Timestamp: time.Now()},
		{Role: model.RoleUser, Content: "Hello, how are you?", Timestamp: time.Now()},
		{Role: model.RoleAssistant, Content: "I'm doing well, thank you!", Timestamp: time.Now()},
		{Role: model.RoleUser, Content: "Can you help me with a task?", Timestamp: time.Now()},
	}
}

// TestTools returns sample tool declarations for testing
func TestTools() []model.Tool {
	return []model.Tool{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a location",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "The city and state, e.g. San Francisco, CA",
					},
				},
				"required": []any{"location"},
			},
		},
		{
			Name:        "calculate",
			Description: "Evaluate an arithmetic expression",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string"},
				},
				"required": []any{"expression"},
			},
		},
	}
}

// TerminalSchema is the structured-output schema of a terminal agent.
func TerminalSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"internal_thought":  map[string]any{"type": "string"},
			"plan":              map[string]any{"type": "string"},
			"terminal_commands": map[string]any{"type": "string"},
		},
		"required": []any{"internal_thought", "plan", "terminal_commands"},
	}
}

func mustDecode(raw string, v any) {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		panic(err)
	}
}

func mustEncode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// OpenAITextResponse returns a chat completion whose assistant content is text.
func OpenAITextResponse(text string) *model.Response {
	var c openai.ChatCompletion
	mustDecode(`{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o",
		"choices": [{"index": 0, "finish_reason": "stop", "logprobs": null,
			"message": {"role": "assistant", "content": `+mustEncode(text)+`, "refusal": null}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, &c)
	return &model.Response{Raw: &c, Usage: &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
}

// OpenAIToolCallResponse returns a chat completion carrying the given calls.
func OpenAIToolCallResponse(calls ...model.FunctionCall) *model.Response {
	type fn struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	type call struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function fn     `json:"function"`
	}
	encoded := make([]call, 0, len(calls))
	for i, c := range calls {
		encoded = append(encoded, call{
			ID:       "call_" + string(rune('a'+i)),
			Type:     "function",
			Function: fn{Name: c.Name, Arguments: mustEncode(c.Arguments)},
		})
	}

	var c openai.ChatCompletion
	mustDecode(`{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "logprobs": null,
			"message": {"role": "assistant", "content": null, "refusal": null, "tool_calls": `+mustEncode(encoded)+`}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
	}`, &c)
	return &model.Response{Raw: &c, Usage: &model.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}}
}

// AnthropicTextResponse returns an Anthropic message with one text block.
func AnthropicTextResponse(text string) *model.Response {
	var m anthropic.Message
	mustDecode(`{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "text", "text": `+mustEncode(text)+`}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 9, "output_tokens": 4}
	}`, &m)
	return &model.Response{Raw: &m, Usage: &model.Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13}}
}

// AnthropicToolUseResponse returns an Anthropic message with text and a
// tool_use block.
func AnthropicToolUseResponse(text string, call model.FunctionCall) *model.Response {
	var m anthropic.Message
	mustDecode(`{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [
			{"type": "text", "text": `+mustEncode(text)+`},
			{"type": "tool_use", "id": "toolu_1", "name": `+mustEncode(call.Name)+`, "input": `+mustEncode(call.Arguments)+`}
		],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 9, "output_tokens": 4}
	}`, &m)
	return &model.Response{Raw: &m, Usage: &model.Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13}}
}

// GeminiResponse returns a generateContent response with the given parts.
func GeminiResponse(parts ...*genai.Part) *model.Response {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: string(genai.RoleModel), Parts: parts},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     7,
			CandidatesTokenCount: 3,
			TotalTokenCount:      10,
		},
	}
	return &model.Response{Raw: resp, Usage: &model.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
}
