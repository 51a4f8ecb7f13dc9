package provider

import (
	"context"
	"errors"
	"testing"

	"cypher/model"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "ollama client with defaults",
			config: Config{Type: model.ProviderOllama},
		},
		{
			name:   "ollama client with custom URL",
			config: Config{Type: model.ProviderOllama, BaseURL: "http://localhost:11434"},
		},
		{
			name:   "openai client",
			config: Config{Type: model.ProviderOpenAI, APIKey: "test-key"},
		},
		{
			name:   "fireworks client",
			config: Config{Type: model.ProviderFireworks, APIKey: "test-key"},
		},
		{
			name:   "openrouter client",
			config: Config{Type: model.ProviderOpenRouter, APIKey: "test-key"},
		},
		{
			name:   "anthropic client",
			config: Config{Type: model.ProviderAnthropic, APIKey: "test-key"},
		},
		{
			name:   "gemini client",
			config: Config{Type: model.ProviderGemini, APIKey: "test-key"},
		},
		{
			name:        "openai without key",
			config:      Config{Type: model.ProviderOpenAI},
			expectError: true,
		},
		{
			name:        "anthropic without key",
			config:      Config{Type: model.ProviderAnthropic},
			expectError: true,
		},
		{
			name:        "unknown provider type",
			config:      Config{Type: model.Provider("unknown")},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.config)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				if client != nil {
					t.Error("expected nil client, got non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.Provider() != tt.config.Type {
				t.Errorf("provider: got %q, want %q", client.Provider(), tt.config.Type)
			}
		})
	}
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		provider     model.Provider
		images       bool
		nativeSchema bool
	}{
		{model.ProviderOpenAI, true, true},
		{model.ProviderFireworks, false, false},
		{model.ProviderOpenRouter, true, false},
		{model.ProviderAnthropic, true, false},
		{model.ProviderGemini, true, true},
		{model.ProviderOllama, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			a, err := NewAdapter(tt.provider)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Provider() != tt.provider {
				t.Errorf("provider: got %q, want %q", a.Provider(), tt.provider)
			}
			if a.SupportsImages() != tt.images {
				t.Errorf("SupportsImages: got %v, want %v", a.SupportsImages(), tt.images)
			}
			if a.NativeSchema() != tt.nativeSchema {
				t.Errorf("NativeSchema: got %v, want %v", a.NativeSchema(), tt.nativeSchema)
			}
		})
	}

	if _, err := NewAdapter("nope"); !errors.Is(err, model.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")
	t.Setenv("ANTHROPIC_MODEL", "")

	if _, err := ConfigFromEnv(model.ProviderOpenAI, ""); err == nil || err.Error() != "OPENAI_API_KEY not set" {
		t.Errorf("missing key error: got %v, want %q", err, "OPENAI_API_KEY not set")
	}

	cfg, err := ConfigFromEnv(model.ProviderGemini, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "google-key" {
		t.Errorf("gemini key fallback: got %q, want %q", cfg.APIKey, "google-key")
	}

	cfg, err = ConfigFromEnv(model.ProviderOllama, "qwen2.5:7b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "http://ollama:11434" || cfg.Model != "qwen2.5:7b" {
		t.Errorf("ollama config: got %+v", cfg)
	}

	t.Setenv("ANTHROPIC_API_KEY", "k")
	cfg, err = ConfigFromEnv(model.ProviderAnthropic, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != DefaultAnthropicModel {
		t.Errorf("anthropic default model: got %q, want %q", cfg.Model, DefaultAnthropicModel)
	}

	t.Setenv("ANTHROPIC_MODEL", "claude-3-opus")
	if got := DefaultModel(model.ProviderAnthropic, ""); got != "claude-3-opus" {
		t.Errorf("ANTHROPIC_MODEL override: got %q", got)
	}
	if got := DefaultModel(model.ProviderAnthropic, "claude-custom"); got != "claude-custom" {
		t.Errorf("configured model should win: got %q", got)
	}
}
