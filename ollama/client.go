// Package ollama is the transport for models served by a local Ollama
// server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Defaults for a local Ollama server.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1:latest"
)

const pingTimeout = 5 * time.Second

// Client sends non-streaming chat requests to one server.
type Client struct {
	api     *api.Client
	baseURL *url.URL
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty. A
// bare host:port is accepted and assumed to be plain HTTP.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid Ollama URL %q: missing host", baseURL)
	}

	return &Client{api: api.NewClient(u, http.DefaultClient), baseURL: u}, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Chat sends req with streaming off and returns the assembled response.
// Should the server stream anyway, content and tool calls from every chunk
// are joined and the metadata of the last chunk is kept.
func (c *Client) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	stream := false
	req.Stream = &stream

	var (
		last      api.ChatResponse
		content   strings.Builder
		toolCalls []api.ToolCall
	)
	err := c.api.Chat(ctx, req, func(chunk api.ChatResponse) error {
		content.WriteString(chunk.Message.Content)
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		last = chunk
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	last.Message.Content = content.String()
	last.Message.ToolCalls = toolCalls
	return &last, nil
}

// Ping lists the installed models to check the server answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.api.List(ctx); err != nil {
		return fmt.Errorf("ollama at %s unreachable: %w", c.BaseURL(), err)
	}
	return nil
}

// Model families and whether they handle the tool calling API, most
// specific prefix first so "llama3.1" wins over "llama3".
var toolSupport = []struct {
	prefix string
	tools  bool
}{
	{"llama3.3", true},
	{"llama3.2", true},
	{"llama3.1", true},
	{"llama3-gradient", false},
	{"llama3", false},
	{"command-r", true},
	{"qwen", true},
	{"mistral", true},
	{"nemotron", true},
	{"granite3", true},
	{"codellama", false},
	{"deepseek", false},
	{"phi", false},
	{"gemma", false},
}

// ModelSupportsToolCalling reports whether modelName belongs to a family
// known to handle tools. Unknown models report false.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, family := range toolSupport {
		if strings.HasPrefix(modelName, family.prefix) {
			return family.tools
		}
	}
	return false
}
