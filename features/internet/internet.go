// Package internet adds web search backed by Perplexity's OpenAI-compatible
// chat completions API.
package internet

import (
	"context"
	"errors"
	"fmt"

	"cypher/terminal"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// Name is the feature name used in settings.
	Name = "internet"

	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "llama-3.1-sonar-large-128k-online"

	systemPrompt = "Give a clear, direct answer to the user's question."
)

// Searcher answers a free-form query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Perplexity is a Searcher using the Perplexity API.
type Perplexity struct {
	client openai.Client
	model  string
}

// NewPerplexity returns a client for apiKey. Empty baseURL and model use the
// defaults.
func NewPerplexity(apiKey, baseURL, model string) (*Perplexity, error) {
	if apiKey == "" {
		return nil, errors.New("PERPLEXITY_API_KEY not set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &Perplexity{client: client, model: model}, nil
}

func (p *Perplexity) Search(ctx context.Context, query string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(query),
		},
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return completion.Choices[0].Message.Content, nil
}

// Feature exposes search-web.
type Feature struct {
	searcher Searcher
}

// New returns the feature using searcher.
func New(searcher Searcher) *Feature {
	return &Feature{searcher: searcher}
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Commands(ctx context.Context) ([]terminal.Command, error) {
	return []terminal.Command{{
		Name:        "search-web",
		Description: "Search the web for information and get a summary. Query MUST be in quotes.",
		Parameters: []terminal.Parameter{{
			Name:        "query",
			Description: "Search query (wrap in quotes)",
			Required:    true,
			Type:        terminal.TypeString,
		}},
		Handler: f.searchWeb,
	}}, nil
}

func (f *Feature) searchWeb(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	query := args.String("query")
	answer, err := f.searcher.Search(ctx, query)
	if err != nil {
		return terminal.Result{Output: fmt.Sprintf("Error searching web: %s", err.Error())}, nil
	}
	return terminal.Result{
		Output: fmt.Sprintf("Search Results for \"%s\":\n\n%s", query, answer),
		Data:   answer,
	}, nil
}
