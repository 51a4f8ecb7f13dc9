package provider

import (
	"context"
	"fmt"
	"os"

	"cypher/model"
	"cypher/ollama"
)

// NewAdapter returns the adapter variant for a provider.
//
// This is the only place that switches on provider identity for request
// and response translation; the agent engine calls it once at construction.
func NewAdapter(p model.Provider) (Adapter, error) {
	switch p {
	case model.ProviderOpenAI:
		return NewOpenAIAdapter(), nil
	case model.ProviderFireworks:
		return NewFireworksAdapter(), nil
	case model.ProviderOpenRouter:
		return NewOpenRouterAdapter(), nil
	case model.ProviderAnthropic:
		return NewAnthropicAdapter(), nil
	case model.ProviderGemini:
		return NewGeminiAdapter(), nil
	case model.ProviderOllama:
		return NewOllamaAdapter(), nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownProvider, p)
	}
}

// NewClient creates the transport client for cfg.Type.
//
// Returns an error if:
//   - The provider type is unknown
//   - A required API key is missing
//   - The provider-specific constructor fails (e.g., invalid URL)
//
// Example:
//
//	cfg, err := provider.ConfigFromEnv(model.ProviderAnthropic, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := provider.NewClient(ctx, cfg)
func NewClient(ctx context.Context, cfg Config) (model.Client, error) {
	switch cfg.Type {
	case model.ProviderOpenAI, model.ProviderFireworks, model.ProviderOpenRouter:
		return NewOpenAIClient(cfg.Type, cfg.BaseURL, cfg.APIKey)
	case model.ProviderAnthropic:
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey)
	case model.ProviderGemini:
		return NewGeminiClient(ctx, cfg.BaseURL, cfg.APIKey)
	case model.ProviderOllama:
		return NewOllamaClient(cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownProvider, cfg.Type)
	}
}

// APIKeyEnv lists the environment variables holding each provider's key,
// in lookup order. Ollama needs no key.
var APIKeyEnv = map[model.Provider][]string{
	model.ProviderOpenAI:     {"OPENAI_API_KEY"},
	model.ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	model.ProviderFireworks:  {"FIREWORKS_API_KEY"},
	model.ProviderGemini:     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	model.ProviderOpenRouter: {"OPENROUTER_API_KEY"},
}

// baseURLEnv names the optional base URL override per provider.
var baseURLEnv = map[model.Provider]string{
	model.ProviderOpenAI:     "OPENAI_BASE_URL",
	model.ProviderAnthropic:  "ANTHROPIC_BASE_URL",
	model.ProviderFireworks:  "FIREWORKS_BASE_URL",
	model.ProviderGemini:     "GEMINI_BASE_URL",
	model.ProviderOllama:     "OLLAMA_HOST",
	model.ProviderOpenRouter: "OPENROUTER_BASE_URL",
}

// ConfigFromEnv builds a client Config from the environment. A missing
// credential is a configuration error reported as "<ENV> not set".
func ConfigFromEnv(p model.Provider, modelName string) (Config, error) {
	cfg := Config{Type: p, Model: DefaultModel(p, modelName)}

	if name, ok := baseURLEnv[p]; ok {
		cfg.BaseURL = os.Getenv(name)
	}

	keys, needsKey := APIKeyEnv[p]
	if !needsKey {
		if _, known := baseURLEnv[p]; !known {
			return Config{}, fmt.Errorf("%w: %q", model.ErrUnknownProvider, p)
		}
		return cfg, nil
	}
	for _, name := range keys {
		if v := os.Getenv(name); v != "" {
			cfg.APIKey = v
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("%s not set", keys[0])
}

// DefaultModel returns configured, or the provider's default model.
func DefaultModel(p model.Provider, configured string) string {
	if configured != "" && p != model.ProviderAnthropic {
		return configured
	}
	switch p {
	case model.ProviderOpenAI:
		return "gpt-4o"
	case model.ProviderAnthropic:
		return AnthropicModel(configured)
	case model.ProviderFireworks:
		return "accounts/fireworks/models/llama-v3p1-405b-instruct"
	case model.ProviderGemini:
		return "gemini-2.0-flash"
	case model.ProviderOllama:
		return ollama.DefaultModel
	case model.ProviderOpenRouter:
		return "meta-llama/llama-3.2-90b-instruct"
	default:
		return configured
	}
}
