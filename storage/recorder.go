package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cypher/core"
	"cypher/model"
	"cypher/terminal"
)

const recordTimeout = 5 * time.Second

// Recorder persists loop and dispatcher events. It implements
// terminal.LogSink and core.Listener. Store errors are logged and never
// returned, so persistence cannot stop the loop.
type Recorder struct {
	store   Store
	archive *Archive
	session string
	logger  *slog.Logger

	mu         sync.Mutex
	summarized int // terminal entries already covered by a summary
}

// NewRecorder returns a recorder writing to store under session. archive may
// be nil, in which case full histories are not kept.
func NewRecorder(store Store, archive *Archive, session string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, archive: archive, session: session, logger: logger}
}

// Log implements terminal.LogSink.
func (r *Recorder) Log(ctx context.Context, e terminal.Entry) {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.store.SaveCommand(ctx, e); err != nil {
		r.logger.Warn("failed to save command", "command", e.Command, "error", err)
	}
}

// OnIteration stores the action as a terminal entry and the latest message
// pair as short-term history.
func (r *Recorder) OnIteration(ctx context.Context, it core.Iteration) {
	ctx, cancel := r.detach(ctx)
	defer cancel()

	entry := TerminalEntry{
		InternalThought: it.InternalThought,
		Plan:            it.Plan,
		Command:         strings.Join(it.Commands, "\n"),
		TerminalLog:     it.Output,
	}
	if _, err := r.store.CreateTerminalEntry(ctx, r.session, entry); err != nil {
		r.logger.Warn("failed to save terminal entry", "iteration", it.Number, "error", err)
	}

	for _, msg := range []*model.Message{it.UserMessage, it.AssistantMessage} {
		if msg == nil {
			continue
		}
		if err := r.store.SaveMessage(ctx, r.session, *msg); err != nil {
			r.logger.Warn("failed to save message", "role", msg.Role, "error", err)
		}
	}
}

// OnMaxActions archives the full history, saves a short-term summary of the
// phase that just ended and rolls up older summaries.
func (r *Recorder) OnMaxActions(ctx context.Context, history []model.Message) {
	if r.archive != nil {
		t := &Transcript{Session: r.session, Messages: history}
		if err := r.archive.Save(t); err != nil {
			r.logger.Warn("failed to archive history", "error", err)
		} else {
			r.logger.Info("archived history", "transcript", t.ID, "messages", len(history))
		}
	}

	ctx, cancel := r.detach(ctx)
	defer cancel()
	r.summarize(ctx)
}

func (r *Recorder) summarize(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.TerminalEntries(ctx, r.session)
	if err != nil {
		r.logger.Warn("failed to load terminal entries", "error", err)
		return
	}
	if r.summarized >= len(entries) {
		return
	}

	phase := entries[r.summarized:]
	if _, err := r.store.SaveSummary(ctx, Summary{Type: SummaryShort, Text: phaseDigest(phase), SessionID: r.session}); err != nil {
		r.logger.Warn("failed to save summary", "error", err)
		return
	}
	r.summarized = len(entries)

	rolled, err := Consolidate(ctx, r.store, JoinSummaries)
	if err != nil {
		r.logger.Warn("failed to consolidate summaries", "error", err)
		return
	}
	if rolled {
		r.logger.Info("consolidated memory summaries", "session", r.session)
	}
}

// phaseDigest lists the plan and commands of each action.
func phaseDigest(entries []TerminalEntry) string {
	lines := []string{fmt.Sprintf("%d %s:", len(entries), pluralize(len(entries), "action"))}
	for _, e := range entries {
		line := firstLine(e.Plan)
		if cmd := strings.ReplaceAll(strings.TrimSpace(e.Command), "\n", "; "); cmd != "" {
			if line != "" {
				line += " "
			}
			line += "($ " + cmd + ")"
		}
		if line != "" {
			lines = append(lines, "- "+line)
		}
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// OnStateChange records whether the loop is active.
func (r *Recorder) OnStateChange(ctx context.Context, active bool) {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.store.SetTerminalStatus(ctx, active); err != nil {
		r.logger.Warn("failed to save terminal status", "active", active, "error", err)
	}
}

// detach keeps request values but not cancellation, so the final records of
// a shutting-down loop are still written.
func (r *Recorder) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

var (
	_ terminal.LogSink = (*Recorder)(nil)
	_ core.Listener    = (*Recorder)(nil)
)
