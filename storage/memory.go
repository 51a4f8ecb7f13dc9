package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"cypher/model"
	"cypher/terminal"
)

type storedMessage struct {
	session string
	msg     model.Message
}

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	commands  []terminal.Entry
	entries   []TerminalEntry
	messages  []storedMessage
	status    TerminalStatus
	tweets    map[string]Tweet
	follows   []string
	likes     map[string]bool
	summaries []Summary
	learnings []Learning
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tweets: make(map[string]Tweet), likes: make(map[string]bool)}
}

func (m *MemoryStore) SaveCommand(ctx context.Context, e terminal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Timestamp = timestampOrNow(e.Timestamp)
	m.commands = append(m.commands, e)
	return nil
}

// Commands returns every saved command entry in order.
func (m *MemoryStore) Commands() []terminal.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]terminal.Entry(nil), m.commands...)
}

func (m *MemoryStore) CreateTerminalEntry(ctx context.Context, session string, e TerminalEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	e.SessionID = session
	e.CreatedAt = timestampOrNow(e.CreatedAt)
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *MemoryStore) UpdateTerminalLog(ctx context.Context, id int64, log string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || id > int64(len(m.entries)) {
		return ErrNotFound
	}
	m.entries[id-1].TerminalLog = log
	return nil
}

func (m *MemoryStore) TerminalEntries(ctx context.Context, session string) ([]TerminalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TerminalEntry
	for _, e := range m.entries {
		if e.SessionID == session {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, session string, msg model.Message) error {
	if !storedRole(msg.Role) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg = model.Message{Role: msg.Role, Content: msg.Content, Timestamp: timestampOrNow(msg.Timestamp)}
	m.messages = append(m.messages, storedMessage{session: session, msg: msg})
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, session string, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = limitOrDefault(limit, defaultMessageLimit)

	var out []model.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if session == "" || m.messages[i].session == session {
			out = append(out, m.messages[i].msg)
		}
	}
	reverse(out)
	return out, nil
}

func (m *MemoryStore) SetTerminalStatus(ctx context.Context, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = TerminalStatus{Active: active, LastUpdated: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) TerminalStatus(ctx context.Context) (TerminalStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, nil
}

func (m *MemoryStore) InsertTweet(ctx context.Context, t Tweet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = timestampOrNow(t.CreatedAt)
	t.MediaURLs = append([]string(nil), t.MediaURLs...)
	m.tweets[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTweet(ctx context.Context, id string) (Tweet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tweets[id]
	if !ok {
		return Tweet{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListTweets(ctx context.Context, f TweetFilter) ([]Tweet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Tweet
	for _, t := range m.tweets {
		if matchTweet(f, t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := limitOrDefault(f.Limit, defaultTweetLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertFollow(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.follows {
		if f == username {
			return false, nil
		}
	}
	m.follows = append(m.follows, username)
	return true, nil
}

func (m *MemoryStore) ListFollows(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.follows...), nil
}

func (m *MemoryStore) InsertLike(ctx context.Context, tweetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likes[tweetID] {
		return false, nil
	}
	m.likes[tweetID] = true
	return true, nil
}

func (m *MemoryStore) SaveSummary(ctx context.Context, s Summary) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.summaries) + 1)
	s.Processed = false
	s.CreatedAt = timestampOrNow(s.CreatedAt)
	m.summaries = append(m.summaries, s)
	return s.ID, nil
}

func (m *MemoryStore) UnprocessedSummaries(ctx context.Context, typ SummaryType, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, s := range m.summaries {
		if s.Type == typ && !s.Processed {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkSummariesProcessed(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if id >= 1 && id <= int64(len(m.summaries)) {
			m.summaries[id-1].Processed = true
		}
	}
	return nil
}

func (m *MemoryStore) SaveLearning(ctx context.Context, l Learning) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = int64(len(m.learnings) + 1)
	l.CreatedAt = timestampOrNow(l.CreatedAt)
	m.learnings = append(m.learnings, l)
	return l.ID, nil
}

func (m *MemoryStore) Learnings(ctx context.Context, typ, session string) ([]Learning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Learning
	for _, l := range m.learnings {
		if l.Type == typ && (session == "" || l.SessionID == session) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
