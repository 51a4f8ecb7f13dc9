// Package dashboard serves live agent state over HTTP and WebSocket.
//
// Registry receives agent notifications and keeps the latest state of every
// agent. Each change is published as an Event, which the Hub pushes to
// connected WebSocket clients.
package dashboard

import (
	"sort"
	"sync"
	"time"

	"cypher/agent"
	"cypher/model"
)

// Event types pushed to WebSocket clients.
const (
	EventAgents             = "agents"
	EventNewAgentSession    = "newAgentSession"
	EventSystemPromptUpdate = "systemPromptUpdated"
	EventChatHistoryUpdate  = "chatHistoryUpdated"
	EventAIResponseUpdate   = "aiResponseUpdated"
	EventLastRunDataUpdate  = "agentLastRunDataUpdated"
	EventLogAdded           = "logAdded"
)

// Event is one JSON frame sent to WebSocket clients.
type Event struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Publisher receives every event produced by the registry.
type Publisher interface {
	Publish(Event)
}

// AgentSummary is the listing entry for one agent.
type AgentSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SessionStart time.Time `json:"sessionStart"`
}

// AgentState is everything the dashboard knows about one agent.
type AgentState struct {
	AgentSummary
	SystemPrompt string           `json:"systemPrompt"`
	ChatHistory  []model.Message  `json:"chatHistory"`
	AIResponse   string           `json:"aiResponse"`
	LastRunData  *model.RunRecord `json:"lastRunData,omitempty"`
}

// Registry tracks agent state. It implements agent.Observer.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*AgentState
	publisher Publisher
	now       func() time.Time
}

var _ agent.Observer = (*Registry)(nil)

// NewRegistry returns an empty registry publishing to p. p may be nil.
func NewRegistry(p Publisher) *Registry {
	return &Registry{
		agents:    make(map[string]*AgentState),
		publisher: p,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher replaces the event publisher.
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

func (r *Registry) publish(e Event) {
	r.mu.RLock()
	p := r.publisher
	r.mu.RUnlock()
	if p != nil {
		p.Publish(e)
	}
}

// update applies fn to the agent's state, creating it if needed.
func (r *Registry) update(id string, fn func(*AgentState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[id]
	if !ok {
		st = &AgentState{AgentSummary: AgentSummary{ID: id, SessionStart: r.now()}}
		r.agents[id] = st
	}
	fn(st)
}

func (r *Registry) AgentRegistered(id, name string) {
	var summary AgentSummary
	r.update(id, func(st *AgentState) {
		st.Name = name
		summary = st.AgentSummary
	})
	r.publish(Event{Type: EventNewAgentSession, AgentID: id, Data: summary})
}

func (r *Registry) SystemPromptUpdated(id, prompt string) {
	r.update(id, func(st *AgentState) { st.SystemPrompt = prompt })
	r.publish(Event{Type: EventSystemPromptUpdate, AgentID: id, Data: prompt})
}

func (r *Registry) ChatHistoryUpdated(id string, history []model.Message) {
	history = model.CloneMessages(history)
	r.update(id, func(st *AgentState) { st.ChatHistory = history })
	r.publish(Event{Type: EventChatHistoryUpdate, AgentID: id, Data: history})
}

func (r *Registry) AIResponseUpdated(id, text string) {
	r.update(id, func(st *AgentState) { st.AIResponse = text })
	r.publish(Event{Type: EventAIResponseUpdate, AgentID: id, Data: text})
}

func (r *Registry) LastRunDataUpdated(id string, run *model.RunRecord) {
	var record *model.RunRecord
	if run != nil {
		cp := *run
		record = &cp
	}
	r.update(id, func(st *AgentState) { st.LastRunData = record })
	r.publish(Event{Type: EventLastRunDataUpdate, AgentID: id, Data: record})
}

// Agents lists every known agent, newest session first.
func (r *Registry) Agents() []AgentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentSummary, 0, len(r.agents))
	for _, st := range r.agents {
		out = append(out, st.AgentSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionStart.Equal(out[j].SessionStart) {
			return out[i].ID > out[j].ID
		}
		return out[i].SessionStart.After(out[j].SessionStart)
	})
	return out
}

// Agent returns a copy of the agent's state.
func (r *Registry) Agent(id string) (AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.agents[id]
	if !ok {
		return AgentState{}, false
	}
	cp := *st
	cp.ChatHistory = append([]model.Message(nil), st.ChatHistory...)
	return cp, true
}
