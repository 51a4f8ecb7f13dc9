package memory

import (
	"context"
	"strings"
	"testing"

	"cypher/storage"
	"cypher/terminal"
)

func newDispatcher(t *testing.T, bank storage.MemoryBank) *terminal.Dispatcher {
	t.Helper()
	r := terminal.NewRegistry(nil)
	cmds, err := New(bank, "Cypher", "session-1").Commands(context.Background())
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	r.Register(cmds...)
	return terminal.NewDispatcher(r)
}

func TestSaveAndGetLearnings(t *testing.T) {
	bank := storage.NewMemoryStore()
	d := newDispatcher(t, bank)
	ctx := context.Background()

	exec := d.Execute(ctx, "save-learning world_knowledge the moon is not made of cheese")
	if exec.Output != "Saved world_knowledge learning #1." {
		t.Fatalf("got %q", exec.Output)
	}
	exec = d.Execute(ctx, "save-learning CYPHER_SELF I like quiet mornings")
	if exec.Output != "Saved cypher_self learning #2." {
		t.Fatalf("got %q", exec.Output)
	}

	saved, err := bank.Learnings(ctx, "world_knowledge", "session-1")
	if err != nil || len(saved) != 1 {
		t.Fatalf("got %v, %v", saved, err)
	}
	if saved[0].Content != "the moon is not made of cheese" {
		t.Errorf("got %q, want %q", saved[0].Content, "the moon is not made of cheese")
	}

	exec = d.Execute(ctx, "get-learnings world_knowledge")
	if !strings.HasPrefix(exec.Output, "### WORLD_KNOWLEDGE\n- [") || !strings.HasSuffix(exec.Output, "] the moon is not made of cheese") {
		t.Errorf("got %q", exec.Output)
	}

	exec = d.Execute(ctx, "get-learnings user_specific")
	if exec.Output != "No user_specific learnings yet." {
		t.Errorf("got %q", exec.Output)
	}
}

func TestUnknownCategory(t *testing.T) {
	d := newDispatcher(t, storage.NewMemoryStore())

	exec := d.Execute(context.Background(), "save-learning gossip something")
	want := `Error executing command 'save-learning': Unknown learning category "gossip". Use one of: world_knowledge, crypto_ecosystem_knowledge, user_specific, cypher_self`
	if exec.Output != want {
		t.Errorf("got %q, want %q", exec.Output, want)
	}
}

func TestGetMemories(t *testing.T) {
	bank := storage.NewMemoryStore()
	d := newDispatcher(t, bank)
	ctx := context.Background()

	if exec := d.Execute(ctx, "get-memories"); exec.Output != "No active summaries found." {
		t.Errorf("got %q", exec.Output)
	}

	if _, err := bank.SaveSummary(ctx, storage.Summary{Type: storage.SummaryShort, Text: "posted a tweet"}); err != nil {
		t.Fatal(err)
	}
	exec := d.Execute(ctx, "get-memories")
	if !strings.HasPrefix(exec.Output, "### SHORT-TERM SUMMARIES\n[") || !strings.Contains(exec.Output, "posted a tweet") {
		t.Errorf("got %q", exec.Output)
	}
}
