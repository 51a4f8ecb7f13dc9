package internet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cypher/terminal"
)

func newPerplexityServer(t *testing.T, status int, answer string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("got path %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("got Authorization %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "ppx-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   DefaultModel,
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestSearchWeb(t *testing.T) {
	srv, body := newPerplexityServer(t, http.StatusOK, "Go 1.25 was released in August 2025.")

	p, err := NewPerplexity("test-key", srv.URL, "")
	if err != nil {
		t.Fatalf("NewPerplexity: %v", err)
	}

	r := terminal.NewRegistry(nil)
	cmds, err := New(p).Commands(context.Background())
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	r.Register(cmds...)

	exec := terminal.NewDispatcher(r).Execute(context.Background(), `search-web "latest go release"`)
	want := "Search Results for \"latest go release\":\n\nGo 1.25 was released in August 2025."
	if exec.Output != want {
		t.Errorf("got %q, want %q", exec.Output, want)
	}
	if !exec.Success {
		t.Error("expected success")
	}

	if got := (*body)["model"]; got != DefaultModel {
		t.Errorf("got model %v, want %q", got, DefaultModel)
	}
	msgs, _ := (*body)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	system, _ := msgs[0].(map[string]any)
	if system["role"] != "system" || system["content"] != systemPrompt {
		t.Errorf("unexpected system message %v", system)
	}
	user, _ := msgs[1].(map[string]any)
	if user["content"] != "latest go release" {
		t.Errorf("got user content %v", user["content"])
	}
}

func TestSearchWebUnquotedQueryTakesRestOfLine(t *testing.T) {
	srv, body := newPerplexityServer(t, http.StatusOK, "answer")
	p, _ := NewPerplexity("test-key", srv.URL, "custom-model")

	r := terminal.NewRegistry(nil)
	cmds, _ := New(p).Commands(context.Background())
	r.Register(cmds...)

	exec := terminal.NewDispatcher(r).Execute(context.Background(), "search-web weather in paris")
	if !strings.HasPrefix(exec.Output, `Search Results for "weather in paris"`) {
		t.Errorf("got %q", exec.Output)
	}
	if got := (*body)["model"]; got != "custom-model" {
		t.Errorf("got model %v, want custom-model", got)
	}
}

func TestSearchWebError(t *testing.T) {
	srv, _ := newPerplexityServer(t, http.StatusBadRequest, "")
	p, _ := NewPerplexity("test-key", srv.URL, "")

	res, err := New(p).searchWeb(context.Background(), terminal.Args{"query": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(res.Output, "Error searching web: ") {
		t.Errorf("got %q", res.Output)
	}
}

func TestNewPerplexityRequiresKey(t *testing.T) {
	_, err := NewPerplexity("", "", "")
	if err == nil || err.Error() != "PERPLEXITY_API_KEY not set" {
		t.Errorf("got %v", err)
	}
}
