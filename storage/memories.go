package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cypher/terminal"
)

// SummaryType is the horizon a memory summary covers.
type SummaryType string

const (
	SummaryShort SummaryType = "short"
	SummaryMid   SummaryType = "mid"
	SummaryLong  SummaryType = "long"
)

// Roll-up thresholds: this many unprocessed summaries of one horizon are
// condensed into one of the next.
const (
	ShortTermRollup = 6
	MidTermRollup   = 3
)

// How many unprocessed summaries of each horizon are active at once.
const (
	activeShort = 3
	activeMid   = 2
)

// Summary is a condensed record of past activity. Processed summaries have
// been rolled up into a longer horizon.
type Summary struct {
	ID        int64       `json:"id"`
	Type      SummaryType `json:"type"`
	Text      string      `json:"summary"`
	SessionID string      `json:"sessionId,omitempty"`
	Processed bool        `json:"processed"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Learning is something the agent chose to remember.
type Learning struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemoryBank stores summaries and learnings.
type MemoryBank interface {
	SaveSummary(ctx context.Context, s Summary) (int64, error)
	// UnprocessedSummaries returns summaries of typ that have not been
	// rolled up, oldest first. A limit of zero returns all of them.
	UnprocessedSummaries(ctx context.Context, typ SummaryType, limit int) ([]Summary, error)
	MarkSummariesProcessed(ctx context.Context, ids []int64) error
	SaveLearning(ctx context.Context, l Learning) (int64, error)
	// Learnings returns learnings of typ, oldest first. An empty session
	// spans all sessions.
	Learnings(ctx context.Context, typ, session string) ([]Learning, error)
}

// UpdateLongTermSummary retires the current long-term summary and stores
// text in its place.
func UpdateLongTermSummary(ctx context.Context, bank MemoryBank, text string) error {
	current, err := bank.UnprocessedSummaries(ctx, SummaryLong, 0)
	if err != nil {
		return err
	}
	if err := bank.MarkSummariesProcessed(ctx, summaryIDs(current)); err != nil {
		return err
	}
	_, err = bank.SaveSummary(ctx, Summary{Type: SummaryLong, Text: text})
	return err
}

// Condenser turns several summaries into the text of one.
type Condenser func(summaries []Summary) string

// JoinSummaries is the Condenser that lists each summary under its
// timestamp.
func JoinSummaries(summaries []Summary) string {
	parts := make([]string, len(summaries))
	for i, s := range summaries {
		parts[i] = fmt.Sprintf("[%s] %s", terminal.FormatTimestamp(s.CreatedAt), s.Text)
	}
	return strings.Join(parts, "\n")
}

// Consolidate rolls ShortTermRollup short summaries into a mid-term one and
// MidTermRollup mid-term summaries into the long-term one. It reports
// whether anything was rolled up.
func Consolidate(ctx context.Context, bank MemoryBank, condense Condenser) (bool, error) {
	if condense == nil {
		condense = JoinSummaries
	}
	rolled := false

	shorts, err := bank.UnprocessedSummaries(ctx, SummaryShort, ShortTermRollup)
	if err != nil {
		return false, err
	}
	if len(shorts) >= ShortTermRollup {
		if _, err := bank.SaveSummary(ctx, Summary{Type: SummaryMid, Text: condense(shorts)}); err != nil {
			return false, err
		}
		if err := bank.MarkSummariesProcessed(ctx, summaryIDs(shorts)); err != nil {
			return false, err
		}
		rolled = true
	}

	mids, err := bank.UnprocessedSummaries(ctx, SummaryMid, MidTermRollup)
	if err != nil {
		return rolled, err
	}
	if len(mids) < MidTermRollup {
		return rolled, nil
	}

	long, err := bank.UnprocessedSummaries(ctx, SummaryLong, 0)
	if err != nil {
		return rolled, err
	}
	if err := UpdateLongTermSummary(ctx, bank, condense(append(long, mids...))); err != nil {
		return rolled, err
	}
	if err := bank.MarkSummariesProcessed(ctx, summaryIDs(mids)); err != nil {
		return rolled, err
	}
	return true, nil
}

// ActiveMemories are the summaries an agent currently remembers.
type ActiveMemories struct {
	Short []Summary
	Mid   []Summary
	Long  *Summary
}

// LoadActiveMemories returns the newest unprocessed summaries of each
// horizon, oldest first within each.
func LoadActiveMemories(ctx context.Context, bank MemoryBank) (ActiveMemories, error) {
	var m ActiveMemories

	short, err := bank.UnprocessedSummaries(ctx, SummaryShort, 0)
	if err != nil {
		return m, err
	}
	mid, err := bank.UnprocessedSummaries(ctx, SummaryMid, 0)
	if err != nil {
		return m, err
	}
	long, err := bank.UnprocessedSummaries(ctx, SummaryLong, 0)
	if err != nil {
		return m, err
	}

	m.Short = newest(short, activeShort)
	m.Mid = newest(mid, activeMid)
	if len(long) > 0 {
		m.Long = &long[len(long)-1]
	}
	return m, nil
}

// Format renders the memories long-term first.
func (m ActiveMemories) Format() string {
	var parts []string
	if m.Long != nil {
		parts = append(parts, fmt.Sprintf("### LONG TERM SUMMARY\n[%s]\n%s\n", terminal.FormatTimestamp(m.Long.CreatedAt), m.Long.Text))
	}
	for _, group := range []struct {
		title     string
		summaries []Summary
	}{
		{"### MID-TERM SUMMARIES", m.Mid},
		{"### SHORT-TERM SUMMARIES", m.Short},
	} {
		if len(group.summaries) == 0 {
			continue
		}
		parts = append(parts, group.title)
		for _, s := range group.summaries {
			parts = append(parts, fmt.Sprintf("[%s]\n%s\n", terminal.FormatTimestamp(s.CreatedAt), s.Text))
		}
	}
	if len(parts) == 0 {
		return "No active summaries found."
	}
	return strings.Join(parts, "\n")
}

func newest(s []Summary, n int) []Summary {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func summaryIDs(s []Summary) []int64 {
	ids := make([]int64, len(s))
	for i, sum := range s {
		ids[i] = sum.ID
	}
	return ids
}
