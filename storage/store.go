// Package storage persists terminal activity and agent memories, and backs
// the local Twitter environment.
//
// Two back ends implement Store: SQLite (the default, a single cypher.db in
// the data directory) and PostgreSQL through a pgx pool. MemoryStore keeps
// everything in process for the "none" driver and for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cypher/model"
	"cypher/terminal"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

// TerminalEntry is one structured agent action and the log it produced.
type TerminalEntry struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"sessionId"`
	InternalThought string    `json:"internalThought"`
	Plan            string    `json:"plan"`
	Command         string    `json:"command"`
	TerminalLog     string    `json:"terminalLog,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TerminalStatus is the singleton active/idle flag of the run loop.
type TerminalStatus struct {
	Active      bool      `json:"isActive"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Tweet is a post in the local Twitter environment.
type Tweet struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	MediaURLs []string  `json:"mediaUrls,omitempty"`
	InReplyTo string    `json:"inReplyTo,omitempty"`
	QuoteOf   string    `json:"quoteOf,omitempty"`
	RetweetOf string    `json:"retweetOf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TweetFilter selects tweets for ListTweets. Empty fields do not filter.
// Results are newest first.
type TweetFilter struct {
	Authors   []string
	Mention   string // text contains "@Mention" and author differs
	Query     string // case-insensitive substring of text
	InReplyTo string
	Limit     int
}

// TweetStore is the persistence the local Twitter client needs.
type TweetStore interface {
	InsertTweet(ctx context.Context, t Tweet) error
	GetTweet(ctx context.Context, id string) (Tweet, error)
	ListTweets(ctx context.Context, f TweetFilter) ([]Tweet, error)
	// InsertFollow records a follow; it reports false if already present.
	InsertFollow(ctx context.Context, username string) (bool, error)
	ListFollows(ctx context.Context) ([]string, error)
	// InsertLike records a like; it reports false if already present.
	InsertLike(ctx context.Context, tweetID string) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	SaveCommand(ctx context.Context, e terminal.Entry) error
	CreateTerminalEntry(ctx context.Context, session string, e TerminalEntry) (int64, error)
	UpdateTerminalLog(ctx context.Context, id int64, log string) error
	// TerminalEntries returns the entries of session, oldest first.
	TerminalEntries(ctx context.Context, session string) ([]TerminalEntry, error)
	// SaveMessage stores a conversation turn. Function messages are skipped.
	SaveMessage(ctx context.Context, session string, msg model.Message) error
	// RecentMessages returns up to limit messages, oldest first. An empty
	// session spans all sessions.
	RecentMessages(ctx context.Context, session string, limit int) ([]model.Message, error)
	SetTerminalStatus(ctx context.Context, active bool) error
	TerminalStatus(ctx context.Context) (TerminalStatus, error)

	TweetStore
	MemoryBank

	Close() error
}

// Config selects and configures a back end.
type Config struct {
	Driver  string // "sqlite" (default), "postgres" or "none"
	DSN     string
	DataDir string
	Logger  *slog.Logger
}

// Open returns the store for cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DataDir)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("storage: postgres driver requires a dsn")
		}
		return OpenPostgres(ctx, cfg.DSN, logger)
	case "none":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

const defaultMessageLimit = 10

func storedRole(role model.Role) bool {
	return role != model.RoleFunction
}

func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
