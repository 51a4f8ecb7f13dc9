package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input    string
		expected Provider
		wantErr  bool
	}{
		{"openai", ProviderOpenAI, false},
		{"Anthropic", ProviderAnthropic, false},
		{"fireworks", ProviderFireworks, false},
		{"aistudio", ProviderGemini, false},
		{"google", ProviderGemini, false},
		{"qwen", ProviderOllama, false},
		{"local", ProviderOllama, false},
		{" openrouter ", ProviderOpenRouter, false},
		{"unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProvider(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownProvider) {
					t.Fatalf("expected ErrUnknownProvider, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRunRecordSnapshot(t *testing.T) {
	history := make([]Message, 0, 15)
	history = append(history, Message{Role: RoleSystem, Content: "sys"})
	for i := 0; i < 14; i++ {
		history = append(history, Message{
			Role:    RoleAssistant,
			Content: fmt.Sprintf("msg %d", i),
			Run:     &RunSnapshot{RunID: "nested"},
		})
	}

	rec := &RunRecord{
		ID:               "run-1",
		SystemPrompt:     "sys",
		DynamicVariables: map[string]string{"a": "1"},
		Usage:            &Usage{TotalTokens: 5},
	}
	snap := rec.Snapshot(history)

	if len(snap.History) != SnapshotHistoryLimit {
		t.Fatalf("history length: got %d, want %d", len(snap.History), SnapshotHistoryLimit)
	}
	if snap.History[0].Content != "msg 4" {
		t.Errorf("first kept message: got %q, want %q", snap.History[0].Content, "msg 4")
	}
	for i, msg := range snap.History {
		if msg.Run != nil {
			t.Errorf("message %d still carries a run snapshot", i)
		}
	}

	// Mutating the record afterwards must not leak into the snapshot.
	rec.DynamicVariables["a"] = "2"
	rec.Usage.TotalTokens = 99
	if snap.DynamicVariables["a"] != "1" {
		t.Errorf("snapshot variables changed: got %q", snap.DynamicVariables["a"])
	}
	if snap.Usage.TotalTokens != 5 {
		t.Errorf("snapshot usage changed: got %d", snap.Usage.TotalTokens)
	}
}

func TestRunResultOutputMap(t *testing.T) {
	r := RunResult{Success: true, Output: map[string]any{"plan": "p"}}
	if r.OutputMap()["plan"] != "p" {
		t.Errorf("got %v, want plan=p", r.OutputMap())
	}
	if (RunResult{Output: "text"}).OutputMap() != nil {
		t.Error("string output should not produce a map")
	}
}
