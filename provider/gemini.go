package provider

import (
	"context"
	"fmt"
	"strings"

	"cypher/config"
	"cypher/model"

	"google.golang.org/genai"
)

// GeminiRequest is the payload built for Google AI Studio.
// The genai SDK takes contents and config as separate arguments.
type GeminiRequest struct {
	Contents []*genai.Content             `json:"contents"`
	Config   *genai.GenerateContentConfig `json:"generationConfig"`
}

// GeminiAdapter implements Adapter for the Gemini generateContent API.
type GeminiAdapter struct{}

// NewGeminiAdapter returns the Gemini adapter.
func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

// Provider implements Adapter.
func (a *GeminiAdapter) Provider() model.Provider { return model.ProviderGemini }

// SupportsImages implements Adapter.
func (a *GeminiAdapter) SupportsImages() bool { return true }

// NativeSchema implements Adapter.
func (a *GeminiAdapter) NativeSchema() bool { return true }

// geminiFiller opens a request whose history has no user turn yet.
const geminiFiller = "."

// BuildParams implements Adapter.
func (a *GeminiAdapter) BuildParams(in ParamsInput) (model.Request, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](DefaultTemperature),
		MaxOutputTokens: DefaultMaxTokens,
	}
	if in.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(in.SystemPrompt, genai.RoleUser)
	}

	if tools, ok := in.Tools.([]*genai.Tool); ok && len(tools) > 0 {
		cfg.Tools = tools
		if choice, ok := in.ToolChoice.(*genai.ToolConfig); ok {
			cfg.ToolConfig = choice
		}
	} else if in.OutputSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = in.OutputSchema
	}

	payload := GeminiRequest{Contents: convertToGeminiContents(in.Messages), Config: cfg}
	return model.Request{Provider: model.ProviderGemini, Model: in.Model, Payload: payload}, nil
}

// convertToGeminiContents maps history to Gemini contents. The leading
// system message travels as the system instruction.
func convertToGeminiContents(messages []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == model.RoleSystem && i == 0 {
			continue
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		if msg.Role != model.RoleAssistant && msg.Image.Valid() {
			parts = append(parts, genai.NewPartFromBytes(msg.Image.Data, msg.Image.MIME))
		}
		if len(parts) == 0 {
			continue
		}

		role := genai.Role(genai.RoleUser)
		if msg.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}

	// Gemini rejects empty contents and wants the user to speak first.
	if len(out) == 0 || out[0].Role != string(genai.RoleUser) {
		out = append([]*genai.Content{genai.NewContentFromText(geminiFiller, genai.RoleUser)}, out...)
	}
	return out
}

// FormatTools implements Adapter. All declarations share one genai.Tool.
func (a *GeminiAdapter) FormatTools(tools []model.Tool, strict bool) any {
	if len(tools) == 0 {
		return []*genai.Tool{}
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: normalizeSchema(tool.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// BuildToolChoice implements Adapter.
func (a *GeminiAdapter) BuildToolChoice(tools []model.Tool, forced string) any {
	fc := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	if forced != "" && forced != ToolChoiceAuto {
		fc.Mode = genai.FunctionCallingConfigModeAny
		fc.AllowedFunctionNames = []string{forced}
	}
	return &genai.ToolConfig{FunctionCallingConfig: fc}
}

// ProcessResponse implements Adapter.
func (a *GeminiAdapter) ProcessResponse(resp *model.Response) (Processed, error) {
	gen, ok := resp.Raw.(*genai.GenerateContentResponse)
	if !ok {
		return Processed{}, fmt.Errorf("gemini: unexpected response type %T", resp.Raw)
	}
	if len(gen.Candidates) == 0 || gen.Candidates[0].Content == nil {
		return Processed{}, nil
	}

	var text strings.Builder
	var calls []model.FunctionCall
	for _, part := range gen.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = make(map[string]any)
			}
			calls = append(calls, model.FunctionCall{Name: part.FunctionCall.Name, Arguments: args})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}

	return Processed{AIMessage: assistantMessage(text.String()), FunctionCalls: calls}, nil
}

// GeminiClient sends requests with the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, baseURL, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Provider implements model.Client.
func (c *GeminiClient) Provider() model.Provider { return model.ProviderGemini }

// ChatCompletion implements model.Client.
func (c *GeminiClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	payload, ok := req.Payload.(GeminiRequest)
	if !ok {
		return nil, fmt.Errorf("gemini: unexpected payload type %T", req.Payload)
	}

	if config.Debug {
		config.DebugLog.Printf("[gemini] generateContent: model=%s contents=%d", req.Model, len(payload.Contents))
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, payload.Contents, payload.Config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	out := &model.Response{Raw: resp}
	if md := resp.UsageMetadata; md != nil {
		out.Usage = &model.Usage{
			PromptTokens:     int64(md.PromptTokenCount),
			CompletionTokens: int64(md.CandidatesTokenCount),
			TotalTokens:      int64(md.TotalTokenCount),
		}
	}
	return out, nil
}
