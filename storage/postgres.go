package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"cypher/model"
	"cypher/terminal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: open migrations: %w", err)
	}
	if err := s.RunMigrations(ctx, sub); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations executes unapplied .sql files from migrationsFS in name
// order, recording each in schema_migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := s.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := entry.Name()
		if applied[name] {
			s.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		s.logger.Info("running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		var err error
		tag, err = s.pool.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

func (s *PostgresStore) SaveCommand(ctx context.Context, e terminal.Entry) error {
	_, err := s.exec(ctx,
		`INSERT INTO terminal_commands (command, output, success, created_at) VALUES ($1, $2, $3, $4)`,
		e.Command, e.Output, e.Success, timestampOrNow(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage: save command: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateTerminalEntry(ctx context.Context, session string, e TerminalEntry) (int64, error) {
	var id int64
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO terminal_history (session_id, internal_thought, plan, command, terminal_log, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			session, e.InternalThought, e.Plan, e.Command, e.TerminalLog, timestampOrNow(e.CreatedAt),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: create terminal entry: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateTerminalLog(ctx context.Context, id int64, log string) error {
	tag, err := s.exec(ctx, `UPDATE terminal_history SET terminal_log = $1 WHERE id = $2`, log, id)
	if err != nil {
		return fmt.Errorf("storage: update terminal log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TerminalEntries(ctx context.Context, session string) ([]TerminalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, internal_thought, plan, command, terminal_log, created_at
		FROM terminal_history WHERE session_id = $1 ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("storage: list terminal entries: %w", err)
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

func (s *PostgresStore) SaveMessage(ctx context.Context, session string, msg model.Message) error {
	if !storedRole(msg.Role) {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO short_term_history (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		session, string(msg.Role), msg.Content, timestampOrNow(msg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, session string, limit int) ([]model.Message, error) {
	query := `SELECT role, content, created_at FROM short_term_history`
	args := []any{}
	if session != "" {
		args = append(args, session)
		query += ` WHERE session_id = $1`
	}
	args = append(args, limitOrDefault(limit, defaultMessageLimit))
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: load messages: %w", err)
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

func (s *PostgresStore) SetTerminalStatus(ctx context.Context, active bool) error {
	_, err := s.exec(ctx,
		`INSERT INTO terminal_status (id, is_active, last_updated) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active, last_updated = EXCLUDED.last_updated`,
		active,
	)
	if err != nil {
		return fmt.Errorf("storage: set terminal status: %w", err)
	}
	return nil
}

func (s *PostgresStore) TerminalStatus(ctx context.Context) (TerminalStatus, error) {
	var st TerminalStatus
	err := s.pool.QueryRow(ctx, `SELECT is_active, last_updated FROM terminal_status WHERE id = 1`).
		Scan(&st.Active, &st.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return TerminalStatus{}, nil
	}
	if err != nil {
		return TerminalStatus{}, fmt.Errorf("storage: read terminal status: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) InsertTweet(ctx context.Context, t Tweet) error {
	_, err := s.exec(ctx,
		`INSERT INTO tweets (id, author, text, media_urls, in_reply_to, quote_of, retweet_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Author, t.Text, nonNil(t.MediaURLs), t.InReplyTo, t.QuoteOf, t.RetweetOf, timestampOrNow(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert tweet: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTweet(ctx context.Context, id string) (Tweet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tweetColumns+` FROM tweets WHERE id = $1`, id)
	if err != nil {
		return Tweet{}, fmt.Errorf("storage: load tweet: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanPostgresTweet)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tweet{}, ErrNotFound
	}
	if err != nil {
		return Tweet{}, fmt.Errorf("storage: load tweet: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTweets(ctx context.Context, f TweetFilter) ([]Tweet, error) {
	query, args := buildTweetQuery(f, func(n int) string { return "$" + strconv.Itoa(n) }, "ILIKE")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list tweets: %w", err)
	}
	tweets, err := pgx.CollectRows(rows, scanPostgresTweet)
	if err != nil {
		return nil, fmt.Errorf("storage: list tweets: %w", err)
	}
	return tweets, nil
}

func (s *PostgresStore) InsertFollow(ctx context.Context, username string) (bool, error) {
	tag, err := s.exec(ctx,
		`INSERT INTO follows (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, username)
	if err != nil {
		return false, fmt.Errorf("storage: insert follow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListFollows(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM follows ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("storage: list follows: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: list follows: %w", err)
	}
	return names, nil
}

func (s *PostgresStore) InsertLike(ctx context.Context, tweetID string) (bool, error) {
	tag, err := s.exec(ctx,
		`INSERT INTO likes (tweet_id) VALUES ($1) ON CONFLICT (tweet_id) DO NOTHING`, tweetID)
	if err != nil {
		return false, fmt.Errorf("storage: insert like: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, sum Summary) (int64, error) {
	var id int64
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO memory_summaries (summary_type, summary, session_id, processed, created_at)
			VALUES ($1, $2, $3, false, $4) RETURNING id`,
			string(sum.Type), sum.Text, sum.SessionID, timestampOrNow(sum.CreatedAt),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: save %s-term summary: %w", sum.Type, err)
	}
	return id, nil
}

func (s *PostgresStore) UnprocessedSummaries(ctx context.Context, typ SummaryType, limit int) ([]Summary, error) {
	query := `SELECT id, summary_type, summary, session_id, processed, created_at
		FROM memory_summaries WHERE summary_type = $1 AND NOT processed ORDER BY created_at, id`
	args := []any{string(typ)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: load summaries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var (
			sum Summary
			t   string
		)
		err := row.Scan(&sum.ID, &t, &sum.Text, &sum.SessionID, &sum.Processed, &sum.CreatedAt)
		sum.Type = SummaryType(t)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load summaries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkSummariesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.exec(ctx, `UPDATE memory_summaries SET processed = true WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("storage: mark summaries processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveLearning(ctx context.Context, l Learning) (int64, error) {
	var id int64
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO learnings (learning_type, content, session_id, user_id, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			l.Type, l.Content, l.SessionID, l.UserID, timestampOrNow(l.CreatedAt),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: save learning: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Learnings(ctx context.Context, typ, session string) ([]Learning, error) {
	query := `SELECT id, learning_type, content, session_id, user_id, created_at FROM learnings WHERE learning_type = $1`
	args := []any{typ}
	if session != "" {
		query += ` AND session_id = $2`
		args = append(args, session)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: load learnings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Learning, error) {
		var l Learning
		err := row.Scan(&l.ID, &l.Type, &l.Content, &l.SessionID, &l.UserID, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load learnings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresTweet(row pgx.CollectableRow) (Tweet, error) {
	var t Tweet
	err := row.Scan(&t.ID, &t.Author, &t.Text, &t.MediaURLs, &t.InReplyTo, &t.QuoteOf, &t.RetweetOf, &t.CreatedAt)
	if len(t.MediaURLs) == 0 {
		t.MediaURLs = nil
	}
	return t, err
}

// isRetriable returns true for Postgres error codes that indicate a transient conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// WithRetry executes fn, retrying up to maxRetries times on serialization or
// deadlock errors with jittered exponential backoff from baseDelay.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
