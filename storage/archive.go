package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cypher/model"

	"github.com/google/uuid"
)

// Transcript is a full agent history saved when an active phase ends.
type Transcript struct {
	ID        string          `json:"id"`
	Session   string          `json:"session"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []model.Message `json:"messages"`
}

// TranscriptMetadata is a lightweight version of Transcript for listing.
type TranscriptMetadata struct {
	ID           string    `json:"id"`
	Session      string    `json:"session"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// TranscriptMatch is one message hit from Archive.Search.
type TranscriptMatch struct {
	TranscriptID string     `json:"transcript_id"`
	Index        int        `json:"index"`
	Role         model.Role `json:"role"`
	Snippet      string     `json:"snippet"`
}

// Archive stores transcripts as JSON files under <data_dir>/transcripts.
type Archive struct {
	dir string
}

// NewArchive creates the transcripts directory if needed.
func NewArchive(dataDir string) (*Archive, error) {
	dir := filepath.Join(dataDir, "transcripts")

	// 0700: transcripts hold full conversation history.
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Save writes t, assigning an ID and creation time when missing.
func (a *Archive) Save(t *Transcript) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Messages = model.CloneMessages(t.Messages)

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(a.path(t.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write transcript file: %w", err)
	}
	return nil
}

// Load reads the transcript with id.
func (a *Archive) Load(id string) (*Transcript, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(a.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return &t, nil
}

// List returns metadata for every transcript, newest first. Unreadable
// files are skipped.
func (a *Archive) List() ([]TranscriptMetadata, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcripts directory: %w", err)
	}

	var out []TranscriptMetadata
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		t, err := a.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, TranscriptMetadata{
			ID:           t.ID,
			Session:      t.Session,
			CreatedAt:    t.CreatedAt,
			MessageCount: len(t.Messages),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Search finds messages containing query (case-insensitive) across every
// transcript.
func (a *Archive) Search(query string) ([]TranscriptMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	list, err := a.List()
	if err != nil {
		return nil, err
	}

	var matches []TranscriptMatch
	for _, meta := range list {
		t, err := a.Load(meta.ID)
		if err != nil {
			continue
		}
		for i, msg := range t.Messages {
			if snippet, ok := snippetAround(msg.Content, query); ok {
				matches = append(matches, TranscriptMatch{
					TranscriptID: t.ID,
					Index:        i,
					Role:         msg.Role,
					Snippet:      snippet,
				})
			}
		}
	}
	return matches, nil
}

func (a *Archive) path(id string) string {
	return filepath.Join(a.dir, id+".json")
}

const snippetRadius = 40

func snippetAround(content, query string) (string, bool) {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 || idx > len(content) {
		return "", false
	}

	start := max(idx-snippetRadius, 0)
	end := min(idx+len(query)+snippetRadius, len(content))
	snippet := strings.ToValidUTF8(strings.ReplaceAll(content[start:end], "\n", " "), "")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet, true
}
