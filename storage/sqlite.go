package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cypher/model"
	"cypher/terminal"

	_ "modernc.org/sqlite"
)

// DatabaseFile is the SQLite file created in the data directory.
const DatabaseFile = "cypher.db"

// SQLiteStore is the default Store, a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) cypher.db in dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	return openSQLite(filepath.Join(dataDir, DatabaseFile))
}

func openSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS terminal_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		output TEXT NOT NULL,
		success INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS terminal_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		internal_thought TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL DEFAULT '',
		terminal_log TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_terminal_history_session ON terminal_history(session_id);
	CREATE TABLE IF NOT EXISTS short_term_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_short_term_history_session ON short_term_history(session_id);
	CREATE TABLE IF NOT EXISTS terminal_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_active INTEGER NOT NULL,
		last_updated DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tweets (
		id TEXT PRIMARY KEY,
		author TEXT NOT NULL,
		text TEXT NOT NULL,
		media_urls TEXT NOT NULL DEFAULT '[]',
		in_reply_to TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tweets_author ON tweets(author);
	CREATE INDEX IF NOT EXISTS idx_tweets_reply ON tweets(in_reply_to);
	CREATE TABLE IF NOT EXISTS follows (
		username TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS likes (
		tweet_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS memory_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		summary_type TEXT NOT NULL,
		summary TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_summaries_type ON memory_summaries(summary_type, processed);
	CREATE TABLE IF NOT EXISTS learnings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		learning_type TEXT NOT NULL,
		content TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learnings_type ON learnings(learning_type);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// migrateSchema adds columns introduced after the first release.
func (s *SQLiteStore) migrateSchema() error {
	columns := []struct{ table, column, ddl string }{
		{"tweets", "quote_of", `ALTER TABLE tweets ADD COLUMN quote_of TEXT NOT NULL DEFAULT ''`},
		{"tweets", "retweet_of", `ALTER TABLE tweets ADD COLUMN retweet_of TEXT NOT NULL DEFAULT ''`},
	}

	for _, c := range columns {
		exists, err := s.columnExists(c.table, c.column)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", c.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(c.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", c.column, err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (s *SQLiteStore) columnExists(tableName, columnName string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *SQLiteStore) SaveCommand(ctx context.Context, e terminal.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terminal_commands (command, output, success, created_at) VALUES (?, ?, ?, ?)`,
		e.Command, e.Output, e.Success, timestampOrNow(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to save command: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateTerminalEntry(ctx context.Context, session string, e TerminalEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO terminal_history (session_id, internal_thought, plan, command, terminal_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session, e.InternalThought, e.Plan, e.Command, e.TerminalLog, timestampOrNow(e.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create terminal entry: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateTerminalLog(ctx context.Context, id int64, log string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE terminal_history SET terminal_log = ? WHERE id = ?`, log, id)
	if err != nil {
		return fmt.Errorf("failed to update terminal log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TerminalEntries(ctx context.Context, session string) ([]TerminalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, internal_thought, plan, command, terminal_log, created_at
		FROM terminal_history WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal entries: %w", err)
	}
	defer rows.Close()

	var entries []TerminalEntry
	for rows.Next() {
		var e TerminalEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.InternalThought, &e.Plan, &e.Command, &e.TerminalLog, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, session string, msg model.Message) error {
	if !storedRole(msg.Role) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO short_term_history (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		session, string(msg.Role), msg.Content, timestampOrNow(msg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, session string, limit int) ([]model.Message, error) {
	query := `SELECT role, content, created_at FROM short_term_history`
	var args []any
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limitOrDefault(limit, defaultMessageLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m    model.Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) SetTerminalStatus(ctx context.Context, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terminal_status (id, is_active, last_updated) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_active = excluded.is_active, last_updated = excluded.last_updated`,
		active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set terminal status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TerminalStatus(ctx context.Context) (TerminalStatus, error) {
	var st TerminalStatus
	err := s.db.QueryRowContext(ctx, `SELECT is_active, last_updated FROM terminal_status WHERE id = 1`).
		Scan(&st.Active, &st.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return TerminalStatus{}, nil
	}
	if err != nil {
		return TerminalStatus{}, fmt.Errorf("failed to read terminal status: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) InsertTweet(ctx context.Context, t Tweet) error {
	media, err := json.Marshal(nonNil(t.MediaURLs))
	if err != nil {
		return fmt.Errorf("failed to encode media: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tweets (id, author, text, media_urls, in_reply_to, quote_of, retweet_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Author, t.Text, string(media), t.InReplyTo, t.QuoteOf, t.RetweetOf, timestampOrNow(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tweet: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTweet(ctx context.Context, id string) (Tweet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tweetColumns+` FROM tweets WHERE id = ?`, id)
	t, err := scanSQLiteTweet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Tweet{}, ErrNotFound
	}
	if err != nil {
		return Tweet{}, fmt.Errorf("failed to load tweet: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTweets(ctx context.Context, f TweetFilter) ([]Tweet, error) {
	query, args := buildTweetQuery(f, func(int) string { return "?" }, "LIKE")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tweets: %w", err)
	}
	defer rows.Close()

	var tweets []Tweet
	for rows.Next() {
		t, err := scanSQLiteTweet(rows)
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

func (s *SQLiteStore) InsertFollow(ctx context.Context, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO follows (username, created_at) VALUES (?, ?) ON CONFLICT(username) DO NOTHING`,
		username, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert follow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListFollows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM follows ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) InsertLike(ctx context.Context, tweetID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO likes (tweet_id, created_at) VALUES (?, ?) ON CONFLICT(tweet_id) DO NOTHING`,
		tweetID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert like: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, sum Summary) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_summaries (summary_type, summary, session_id, processed, created_at) VALUES (?, ?, ?, 0, ?)`,
		string(sum.Type), sum.Text, sum.SessionID, timestampOrNow(sum.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save %s-term summary: %w", sum.Type, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UnprocessedSummaries(ctx context.Context, typ SummaryType, limit int) ([]Summary, error) {
	query := `SELECT id, summary_type, summary, session_id, processed, created_at
		FROM memory_summaries WHERE summary_type = ? AND processed = 0 ORDER BY created_at, id`
	args := []any{string(typ)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum Summary
			t   string
		)
		if err := rows.Scan(&sum.ID, &t, &sum.Text, &sum.SessionID, &sum.Processed, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.Type = SummaryType(t)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkSummariesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_summaries SET processed = 1 WHERE id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark summaries processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveLearning(ctx context.Context, l Learning) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO learnings (learning_type, content, session_id, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.Type, l.Content, l.SessionID, l.UserID, timestampOrNow(l.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save learning: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) Learnings(ctx context.Context, typ, session string) ([]Learning, error) {
	query := `SELECT id, learning_type, content, session_id, user_id, created_at FROM learnings WHERE learning_type = ?`
	args := []any{typ}
	if session != "" {
		query += ` AND session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load learnings: %w", err)
	}
	defer rows.Close()

	var out []Learning
	for rows.Next() {
		var l Learning
		if err := rows.Scan(&l.ID, &l.Type, &l.Content, &l.SessionID, &l.UserID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTweet(row rowScanner) (Tweet, error) {
	var (
		t     Tweet
		media string
	)
	if err := row.Scan(&t.ID, &t.Author, &t.Text, &media, &t.InReplyTo, &t.QuoteOf, &t.RetweetOf, &t.CreatedAt); err != nil {
		return Tweet{}, err
	}
	if media != "" {
		if err := json.Unmarshal([]byte(media), &t.MediaURLs); err != nil {
			return Tweet{}, fmt.Errorf("failed to decode media for tweet %s: %w", t.ID, err)
		}
	}
	if len(t.MediaURLs) == 0 {
		t.MediaURLs = nil
	}
	return t, nil
}
