package model

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message represents one turn in an agent conversation.
type Message struct {
	Role      Role         `json:"role"`
	Content   string       `json:"content,omitempty"`
	Image     *Image       `json:"image,omitempty"`
	Run       *RunSnapshot `json:"runData,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Image is an inline attachment carried by a message.
type Image struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// Valid reports whether the image has enough information to be forwarded.
func (i *Image) Valid() bool {
	return i != nil && len(i.Data) > 0 && i.MIME != ""
}

// Clone returns a copy of the message without its run snapshot.
// History handed outside the engine always goes through Clone so
// snapshots never nest inside other snapshots.
func (m Message) Clone() Message {
	m.Run = nil
	return m
}

// CloneMessages applies Clone to every message in the slice.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

// Tool is a function declaration offered to the model.
// Parameters holds a JSON-Schema object.
type Tool struct {
	Name        string         `json:"name" yaml:"name" toml:"name"`
	Description string         `json:"description" yaml:"description" toml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// FunctionCall is a normalized request from the model to invoke a tool.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
