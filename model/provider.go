package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a provider name cannot be resolved.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider identifies a model vendor. The set is closed: every place that
// needs provider-specific behaviour resolves it once from this value.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderFireworks  Provider = "fireworks"
	ProviderGemini     Provider = "gemini"
	ProviderOllama     Provider = "ollama"
	ProviderOpenRouter Provider = "openrouter"
)

// ParseProvider maps a configured client name to a Provider.
//
// Aliases:
//   - "google", "aistudio" → ProviderGemini
//   - "local", "qwen" → ProviderOllama
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI, nil
	case "anthropic":
		return ProviderAnthropic, nil
	case "fireworks":
		return ProviderFireworks, nil
	case "gemini", "google", "aistudio":
		return ProviderGemini, nil
	case "ollama", "local", "qwen":
		return ProviderOllama, nil
	case "openrouter":
		return ProviderOpenRouter, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Request is a provider-specific request built by an adapter.
// Payload holds the SDK parameter value for that provider.
type Request struct {
	Provider Provider
	Model    string
	Payload  any
}

// Response carries the raw provider response with token usage split out.
type Response struct {
	Raw   any
	Usage *Usage
}

// Client performs the network call for one provider.
//
// This interface lives in the model package so the agent engine and the
// provider implementations can both depend on it without an import cycle.
type Client interface {
	// ChatCompletion sends a built request and returns the raw response.
	// Transport failures are returned as errors.
	ChatCompletion(ctx context.Context, req Request) (*Response, error)

	// Provider reports which wire format this client speaks.
	Provider() Provider
}
