package agent

import (
	"time"

	"cypher/model"
)

// GetChatHistory returns a copy of the conversation. With limit 0 the full
// history including the system message is returned; otherwise the last
// limit non-system messages.
func (a *Agent) GetChatHistory(limit int) []model.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		return append([]model.Message(nil), a.history...)
	}

	var out []model.Message
	for _, msg := range a.history {
		if msg.Role != model.RoleSystem {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]model.Message(nil), out...)
}

// GetFullChatHistory returns a copy of the whole conversation.
func (a *Agent) GetFullChatHistory() []model.Message {
	return a.GetChatHistory(0)
}

// GetLastAgentMessage returns the latest assistant message.
func (a *Agent) GetLastAgentMessage() (model.Message, bool) {
	return a.lastByRole(model.RoleAssistant)
}

// GetLastUserMessage returns the latest user message.
func (a *Agent) GetLastUserMessage() (model.Message, bool) {
	return a.lastByRole(model.RoleUser)
}

func (a *Agent) lastByRole(role model.Role) (model.Message, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.history) - 1; i >= 0; i-- {
		if a.history[i].Role == role {
			return a.history[i], true
		}
	}
	return model.Message{}, false
}

// AddUserMessage appends a user turn without running the model.
func (a *Agent) AddUserMessage(content string) {
	a.appendMessages(model.Message{Role: model.RoleUser, Content: content, Timestamp: time.Now()})
}

// AddAgentMessage appends an assistant turn without running the model.
func (a *Agent) AddAgentMessage(content string) {
	a.appendMessages(model.Message{Role: model.RoleAssistant, Content: content, Timestamp: time.Now()})
}

// AddImage appends one message per image, the first carrying content. It
// does nothing when the provider cannot take images or any image lacks
// data or a MIME type.
func (a *Agent) AddImage(images []model.Image, content string, role model.Role) {
	if !a.adapter.SupportsImages() || len(images) == 0 {
		return
	}
	for i := range images {
		if !images[i].Valid() {
			a.logger.Warn("dropping images: attachment without data or MIME type", "image", images[i].Name)
			return
		}
	}
	if role == "" {
		role = model.RoleUser
	}

	now := time.Now()
	messages := make([]model.Message, len(images))
	for i := range images {
		img := images[i]
		img.Data = append([]byte(nil), img.Data...)
		messages[i] = model.Message{Role: role, Image: &img, Timestamp: now}
	}
	messages[0].Content = content
	a.appendMessages(messages...)
}

// LoadChatHistory replaces the conversation with messages, keeping the
// current system message. System messages in messages are dropped.
func (a *Agent) LoadChatHistory(messages []model.Message) {
	a.mu.Lock()
	history := make([]model.Message, 1, len(messages)+1)
	history[0] = a.history[0]
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		history = append(history, msg)
	}
	a.history = history
	a.mu.Unlock()

	a.notifyHistory()
}

func (a *Agent) appendMessages(messages ...model.Message) {
	a.mu.Lock()
	a.history = append(a.history, messages...)
	a.mu.Unlock()

	a.notifyHistory()
}

func (a *Agent) notifyHistory() {
	a.observer.ChatHistoryUpdated(a.id, a.GetFullChatHistory())
}
