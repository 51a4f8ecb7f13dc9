// Package memory adds commands that read the agent's memory summaries and
// keep learnings across sessions.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"cypher/storage"
	"cypher/terminal"
)

// Name is the feature name used in settings.
const Name = "memory"

// Learning categories shared by every agent. Each agent also has its own
// "<agent>_self" category.
var baseCategories = []string{"world_knowledge", "crypto_ecosystem_knowledge", "user_specific"}

// Feature exposes get-memories, save-learning and get-learnings.
type Feature struct {
	bank    storage.MemoryBank
	session string
	self    string
}

// New returns the feature for agent, saving learnings under session.
func New(bank storage.MemoryBank, agent, session string) *Feature {
	return &Feature{
		bank:    bank,
		session: session,
		self:    strings.ToLower(agent) + "_self",
	}
}

func (f *Feature) Name() string { return Name }

// Categories returns the learning categories this agent may use.
func (f *Feature) Categories() []string {
	return append(slices.Clone(baseCategories), f.self)
}

func (f *Feature) Commands(ctx context.Context) ([]terminal.Command, error) {
	categories := strings.Join(f.Categories(), ", ")
	return []terminal.Command{
		{
			Name:        "get-memories",
			Description: "Show your long, mid and short-term memory summaries",
			Handler:     f.getMemories,
		},
		{
			Name:        "save-learning",
			Description: "Remember something for later sessions. Categories: " + categories,
			Parameters: []terminal.Parameter{
				{Name: "category", Description: "One of: " + categories, Required: true, Type: terminal.TypeString},
				{Name: "content", Description: "What you learned", Required: true, Type: terminal.TypeString},
			},
			Handler: f.saveLearning,
		},
		{
			Name:        "get-learnings",
			Description: "List what you have learned in a category",
			Parameters: []terminal.Parameter{
				{Name: "category", Description: "One of: " + categories, Required: true, Type: terminal.TypeString},
			},
			Handler: f.getLearnings,
		},
	}, nil
}

func (f *Feature) getMemories(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	m, err := storage.LoadActiveMemories(ctx, f.bank)
	if err != nil {
		return terminal.Result{Output: "Error retrieving summaries."}, nil
	}
	return terminal.Result{Output: m.Format(), Data: m}, nil
}

func (f *Feature) category(raw string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(raw))
	if !slices.Contains(f.Categories(), c) {
		return "", fmt.Errorf("Unknown learning category %q. Use one of: %s", raw, strings.Join(f.Categories(), ", "))
	}
	return c, nil
}

func (f *Feature) saveLearning(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	category, err := f.category(args.String("category"))
	if err != nil {
		return terminal.Result{}, err
	}
	content := strings.TrimSpace(args.String("content"))
	if content == "" {
		return terminal.Result{}, errors.New("Nothing to remember")
	}

	id, err := f.bank.SaveLearning(ctx, storage.Learning{Type: category, Content: content, SessionID: f.session})
	if err != nil {
		return terminal.Result{Output: fmt.Sprintf("Error saving learning: %v", err)}, nil
	}
	return terminal.Result{Output: fmt.Sprintf("Saved %s learning #%d.", category, id)}, nil
}

func (f *Feature) getLearnings(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	category, err := f.category(args.String("category"))
	if err != nil {
		return terminal.Result{}, err
	}

	learnings, err := f.bank.Learnings(ctx, category, "")
	if err != nil {
		return terminal.Result{Output: fmt.Sprintf("Error retrieving learnings: %v", err)}, nil
	}
	if len(learnings) == 0 {
		return terminal.Result{Output: fmt.Sprintf("No %s learnings yet.", category)}, nil
	}

	lines := make([]string, 0, len(learnings)+1)
	lines = append(lines, fmt.Sprintf("### %s", strings.ToUpper(category)))
	for _, l := range learnings {
		lines = append(lines, fmt.Sprintf("- [%s] %s", terminal.FormatTimestamp(l.CreatedAt), l.Content))
	}
	return terminal.Result{Output: strings.Join(lines, "\n"), Data: learnings}, nil
}
