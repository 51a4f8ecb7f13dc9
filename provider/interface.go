// Package provider translates between Cypher's provider-agnostic conversation
// model and the wire formats of individual LLM vendors.
//
// Every vendor is represented by two pieces:
//   - an Adapter, a pure translator that builds the vendor request from the
//     normalized history and parses the vendor response back into text plus
//     function calls;
//   - a model.Client, a thin transport that sends the built request with the
//     vendor SDK and hands back the raw response.
//
// # Why Adapters?
//
// The agent engine never branches on provider identity. It asks NewAdapter
// for the right variant once, at construction time, and from then on only
// talks to the Adapter interface. Adding a vendor means adding one adapter,
// one client and one case in each factory.
//
// # Variants
//
//   - OpenAIAdapter: OpenAI, Fireworks and OpenRouter (chat completions)
//   - AnthropicAdapter: Anthropic Messages API
//   - GeminiAdapter: Google AI Studio (generateContent)
//   - OllamaAdapter: local models served by Ollama
//
// # Usage
//
//	adapter, err := provider.NewAdapter(model.ProviderOpenAI)
//	client, err := provider.NewClient(ctx, provider.Config{
//	    Type:   model.ProviderOpenAI,
//	    Model:  "gpt-4o",
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	})
//	req, err := adapter.BuildParams(provider.ParamsInput{...})
//	resp, err := client.ChatCompletion(ctx, req)
//	out, err := adapter.ProcessResponse(resp)
package provider

import "cypher/model"

// Request defaults shared by every adapter.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.0
)

// ToolChoiceAuto lets the model decide whether to call a tool.
const ToolChoiceAuto = "auto"

// ParamsInput is everything an adapter needs to build one request.
type ParamsInput struct {
	Model        string
	Messages     []model.Message
	Tools        any // value returned by Adapter.FormatTools
	ToolChoice   any // value returned by Adapter.BuildToolChoice
	SystemPrompt string
	OutputSchema map[string]any
}

// Processed is the normalized content of a provider response.
type Processed struct {
	AIMessage     *model.Message
	FunctionCalls []model.FunctionCall
}

// Adapter converts between the normalized model and one vendor's wire shape.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	// Provider reports the wire format the adapter produces.
	Provider() model.Provider

	// BuildParams maps history, tools and schema to a vendor request.
	BuildParams(in ParamsInput) (model.Request, error)

	// FormatTools converts declarations to the vendor's tool dialect.
	// strict marks the definitions as schema-constrained where supported.
	FormatTools(tools []model.Tool, strict bool) any

	// BuildToolChoice returns the vendor tool-choice value. An empty forced
	// name means "auto".
	BuildToolChoice(tools []model.Tool, forced string) any

	// ProcessResponse extracts assistant text and function calls.
	ProcessResponse(resp *model.Response) (Processed, error)

	// SupportsImages reports whether image attachments are forwarded.
	SupportsImages() bool

	// NativeSchema reports whether the vendor enforces output schemas
	// itself. When false the engine injects a one-time schema reminder.
	NativeSchema() bool
}

// Config holds provider client configuration.
type Config struct {
	Type    model.Provider
	BaseURL string
	Model   string
	APIKey  string
}
