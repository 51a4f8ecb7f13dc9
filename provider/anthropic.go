package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cypher/config"
	"cypher/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicFiller is sent when a request would otherwise carry no turns.
const anthropicFiller = "."

// AnthropicAdapter implements Adapter for the Anthropic Messages API.
//
// Anthropic takes the system prompt in a dedicated field and has no native
// output-schema enforcement, so the engine embeds the schema in the prompt
// and sends a one-time reminder turn.
type AnthropicAdapter struct{}

// NewAnthropicAdapter returns the Anthropic adapter.
func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

// Provider implements Adapter.
func (a *AnthropicAdapter) Provider() model.Provider { return model.ProviderAnthropic }

// SupportsImages implements Adapter.
func (a *AnthropicAdapter) SupportsImages() bool { return true }

// NativeSchema implements Adapter.
func (a *AnthropicAdapter) NativeSchema() bool { return false }

// BuildParams implements Adapter.
func (a *AnthropicAdapter) BuildParams(in ParamsInput) (model.Request, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(in.Model),
		Messages:    convertToAnthropicMessages(in.Messages),
		MaxTokens:   DefaultMaxTokens,
		Temperature: anthropic.Float(DefaultTemperature),
	}

	if in.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.SystemPrompt}}
	}

	if tools, ok := in.Tools.([]anthropic.ToolUnionParam); ok && len(tools) > 0 {
		params.Tools = tools
		if choice, ok := in.ToolChoice.(anthropic.ToolChoiceUnionParam); ok {
			params.ToolChoice = choice
		}
	}

	return model.Request{Provider: model.ProviderAnthropic, Model: in.Model, Payload: params}, nil
}

// convertToAnthropicMessages maps history to Anthropic turns. System
// messages are dropped; the compiled prompt travels in the system field.
func convertToAnthropicMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		if msg.Role == model.RoleAssistant {
			if msg.Content == "" {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Image.Valid() {
			blocks = append(blocks, anthropic.NewImageBlockBase64(msg.Image.MIME, base64.StdEncoding.EncodeToString(msg.Image.Data)))
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}

	// Anthropic requires at least one turn, opening with the user.
	if len(out) == 0 || out[0].Role != anthropic.MessageParamRoleUser {
		out = append([]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(anthropicFiller))}, out...)
	}

	return out
}

// FormatTools implements Adapter. Tools without a name, description or
// parameter schema are skipped; Anthropic rejects them.
func (a *AnthropicAdapter) FormatTools(tools []model.Tool, strict bool) any {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" || tool.Description == "" || tool.Parameters == nil {
			continue
		}
		schema := normalizeSchema(tool.Parameters)

		extra := make(map[string]any)
		for k, v := range schema {
			switch k {
			case "type", "properties", "required":
			default:
				extra[k] = v
			}
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
			Required:   requiredFields(schema),
		}
		if len(extra) > 0 {
			inputSchema.ExtraFields = extra
		}

		param := anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out
}

// BuildToolChoice implements Adapter.
func (a *AnthropicAdapter) BuildToolChoice(tools []model.Tool, forced string) any {
	if forced != "" && forced != ToolChoiceAuto {
		return anthropic.ToolChoiceParamOfTool(forced)
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
}

// ProcessResponse implements Adapter.
func (a *AnthropicAdapter) ProcessResponse(resp *model.Response) (Processed, error) {
	msg, ok := resp.Raw.(*anthropic.Message)
	if !ok {
		return Processed{}, fmt.Errorf("anthropic: unexpected response type %T", resp.Raw)
	}
	// Anything but a message carries no turn to record.
	if string(msg.Type) != "message" {
		return Processed{}, nil
	}

	var text strings.Builder
	var calls []model.FunctionCall

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args := make(map[string]any)
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					continue
				}
			}
			calls = append(calls, model.FunctionCall{Name: variant.Name, Arguments: args})
		}
	}

	result := Processed{FunctionCalls: calls}
	if string(msg.Role) == string(model.RoleAssistant) {
		result.AIMessage = assistantMessage(text.String())
	}
	return result, nil
}

// AnthropicClient sends requests with the official Anthropic SDK.
type AnthropicClient struct {
	client  *anthropic.Client
	baseURL string
}

// DefaultAnthropicModel is used when neither the agent definition nor
// ANTHROPIC_MODEL names a model.
const DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicModel resolves the model to use for an agent.
func AnthropicModel(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("ANTHROPIC_MODEL"); env != "" {
		return env
	}
	return DefaultAnthropicModel
}

// NewAnthropicClient creates a new Anthropic client.
//
// Parameters:
//   - baseURL: Anthropic API base URL (default: "https://api.anthropic.com")
//   - apiKey: Anthropic API key (required)
//
// Returns an error if the API key is missing.
func NewAnthropicClient(baseURL, apiKey string) (*AnthropicClient, error) {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &AnthropicClient{client: &client, baseURL: baseURL}, nil
}

// Provider implements model.Client.
func (c *AnthropicClient) Provider() model.Provider { return model.ProviderAnthropic }

// ChatCompletion implements model.Client.
func (c *AnthropicClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	params, ok := req.Payload.(anthropic.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("anthropic: unexpected payload type %T", req.Payload)
	}

	if config.Debug {
		config.DebugLog.Printf("[anthropic] messages: model=%s turns=%d tools=%d", params.Model, len(params.Messages), len(params.Tools))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	return &model.Response{
		Raw: msg,
		Usage: &model.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}
