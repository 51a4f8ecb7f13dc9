package provider

import (
	"context"
	"fmt"

	"cypher/config"
	"cypher/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIAdapter implements Adapter for the chat completions wire format.
//
// The same format is spoken by OpenAI, Fireworks and OpenRouter; the
// differences between them are captured by the capability flags, not by
// separate code paths.
type OpenAIAdapter struct {
	provider       model.Provider
	strictTools    bool // mark function definitions strict when a schema is set
	images         bool // forward image attachments as image_url parts
	responseFormat bool // send response_format=json_schema in schema mode
}

// NewOpenAIAdapter returns the adapter for OpenAI's own endpoint.
func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		provider:       model.ProviderOpenAI,
		strictTools:    true,
		images:         true,
		responseFormat: true,
	}
}

// NewFireworksAdapter returns the adapter for Fireworks' OpenAI-compatible
// endpoint. Fireworks rejects strict function definitions and image parts.
func NewFireworksAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{provider: model.ProviderFireworks}
}

// NewOpenRouterAdapter returns the adapter for OpenRouter. OpenRouter
// forwards images but schema enforcement depends on the routed model, so it
// relies on the prompt-embedded schema instead.
func NewOpenRouterAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{provider: model.ProviderOpenRouter, images: true}
}

// Provider implements Adapter.
func (a *OpenAIAdapter) Provider() model.Provider { return a.provider }

// SupportsImages implements Adapter.
func (a *OpenAIAdapter) SupportsImages() bool { return a.images }

// NativeSchema implements Adapter.
func (a *OpenAIAdapter) NativeSchema() bool { return a.responseFormat }

// BuildParams implements Adapter.
func (a *OpenAIAdapter) BuildParams(in ParamsInput) (model.Request, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(in.Model),
		Messages:    a.convertMessages(in.Messages),
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Temperature: openai.Float(DefaultTemperature),
	}

	if tools, ok := in.Tools.([]openai.ChatCompletionToolUnionParam); ok && len(tools) > 0 {
		params.Tools = tools
		if choice, ok := in.ToolChoice.(openai.ChatCompletionToolChoiceOptionUnionParam); ok {
			params.ToolChoice = choice
		}
	} else if in.OutputSchema != nil && a.responseFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "output",
					Schema: in.OutputSchema,
				},
			},
		}
	}

	return model.Request{Provider: a.provider, Model: in.Model, Payload: params}, nil
}

func (a *OpenAIAdapter) convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			if a.images && msg.Image.Valid() {
				parts := []openai.ChatCompletionContentPartUnionParam{
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: DataURI(msg.Image),
					}),
				}
				if msg.Content != "" {
					parts = append([]openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(msg.Content)}, parts...)
				}
				out = append(out, openai.UserMessage(parts))
				continue
			}
			// Function results have no tool_call_id to pair with, so they
			// travel as user turns.
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// FormatTools implements Adapter.
func (a *OpenAIAdapter) FormatTools(tools []model.Tool, strict bool) any {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		def := openai.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: openai.FunctionParameters(normalizeSchema(tool.Parameters)),
		}
		if tool.Description != "" {
			def.Description = openai.String(tool.Description)
		}
		if strict && a.strictTools {
			def.Strict = openai.Bool(true)
		}
		out = append(out, openai.ChatCompletionFunctionTool(def))
	}
	return out
}

// BuildToolChoice implements Adapter.
func (a *OpenAIAdapter) BuildToolChoice(tools []model.Tool, forced string) any {
	if forced == "" || forced == ToolChoiceAuto {
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(ToolChoiceAuto)}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{
		OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: forced},
		},
	}
}

// ProcessResponse implements Adapter.
func (a *OpenAIAdapter) ProcessResponse(resp *model.Response) (Processed, error) {
	completion, ok := resp.Raw.(*openai.ChatCompletion)
	if !ok {
		return Processed{}, fmt.Errorf("%s: unexpected response type %T", a.provider, resp.Raw)
	}
	if len(completion.Choices) == 0 {
		return Processed{}, nil
	}

	msg := completion.Choices[0].Message
	result := Processed{AIMessage: assistantMessage(msg.Content)}

	for _, call := range msg.ToolCalls {
		if call.Type != "" && call.Type != "function" {
			continue
		}
		result.FunctionCalls = append(result.FunctionCalls, model.FunctionCall{
			Name:      call.Function.Name,
			Arguments: ParseToolArguments(call.Function.Arguments),
		})
	}

	// Legacy single function_call responses.
	if len(result.FunctionCalls) == 0 && msg.FunctionCall.Name != "" {
		result.FunctionCalls = append(result.FunctionCalls, model.FunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: ParseToolArguments(msg.FunctionCall.Arguments),
		})
	}

	return result, nil
}

// OpenAIClient sends chat completion requests with the official OpenAI SDK.
// It serves every OpenAI-compatible endpoint.
type OpenAIClient struct {
	client   openai.Client
	provider model.Provider
	baseURL  string
}

// Default endpoints for OpenAI-compatible providers.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	FireworksBaseURL  = "https://api.fireworks.ai/inference/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
//
// Parameters:
//   - p: provider the client speaks for (openai, fireworks, openrouter)
//   - baseURL: API base URL (defaults per provider)
//   - apiKey: API key (required)
//
// Returns an error if the API key is missing.
func NewOpenAIClient(p model.Provider, baseURL, apiKey string) (*OpenAIClient, error) {
	if baseURL == "" {
		switch p {
		case model.ProviderFireworks:
			baseURL = FireworksBaseURL
		case model.ProviderOpenRouter:
			baseURL = OpenRouterBaseURL
		default:
			baseURL = OpenAIBaseURL
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", p)
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenAIClient{client: client, provider: p, baseURL: baseURL}, nil
}

// Provider implements model.Client.
func (c *OpenAIClient) Provider() model.Provider { return c.provider }

// ChatCompletion implements model.Client.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	params, ok := req.Payload.(openai.ChatCompletionNewParams)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", c.provider, req.Payload)
	}

	if config.Debug {
		config.DebugLog.Printf("[%s] chat completion: model=%s messages=%d tools=%d", c.provider, params.Model, len(params.Messages), len(params.Tools))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.provider, err)
	}

	return &model.Response{
		Raw: completion,
		Usage: &model.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}, nil
}
