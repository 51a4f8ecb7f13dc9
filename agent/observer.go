package agent

import "cypher/model"

// Observer receives agent state changes. Methods are called synchronously
// from the goroutine that changed the state and must not call back into
// the agent's Run.
type Observer interface {
	AgentRegistered(id, name string)
	SystemPromptUpdated(id, prompt string)
	ChatHistoryUpdated(id string, history []model.Message)
	AIResponseUpdated(id, text string)
	LastRunDataUpdated(id string, run *model.RunRecord)
}

// MultiObserver fans every notification out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) AgentRegistered(id, name string) {
	for _, o := range m {
		o.AgentRegistered(id, name)
	}
}

func (m MultiObserver) SystemPromptUpdated(id, prompt string) {
	for _, o := range m {
		o.SystemPromptUpdated(id, prompt)
	}
}

func (m MultiObserver) ChatHistoryUpdated(id string, history []model.Message) {
	for _, o := range m {
		o.ChatHistoryUpdated(id, history)
	}
}

func (m MultiObserver) AIResponseUpdated(id, text string) {
	for _, o := range m {
		o.AIResponseUpdated(id, text)
	}
}

func (m MultiObserver) LastRunDataUpdated(id string, run *model.RunRecord) {
	for _, o := range m {
		o.LastRunDataUpdated(id, run)
	}
}

type nopObserver struct{}

func (nopObserver) AgentRegistered(string, string)             {}
func (nopObserver) SystemPromptUpdated(string, string)         {}
func (nopObserver) ChatHistoryUpdated(string, []model.Message) {}
func (nopObserver) AIResponseUpdated(string, string)           {}
func (nopObserver) LastRunDataUpdated(string, *model.RunRecord) {}
