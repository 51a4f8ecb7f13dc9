package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"cypher/model"
)

type recordMessage struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

type record struct {
	Messages []recordMessage `json:"messages"`
}

// Transcript writes each turn as one JSON line holding the input as a user
// message and the reply as an assistant message.
type Transcript struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{enc: json.NewEncoder(w)}
}

// Write is a turn handler for WithTurnHandler.
func (t *Transcript) Write(ctx context.Context, turn Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.enc.Encode(record{Messages: []recordMessage{
		{Role: model.RoleUser, Content: turn.Input},
		{Role: model.RoleAssistant, Content: turn.Output},
	}})
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
