package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
)

// helpColumnWidth is the display width the command signature is padded to
// in help output.
const helpColumnWidth = 25

// Registry is an insertion-ordered set of commands keyed by name.
// Registering a name twice replaces the earlier command in place.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Command
	logger *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byName: make(map[string]Command), logger: logger}
}

// Register adds commands in order. Commands without a name are skipped
// with a warning; a duplicate name overwrites the earlier registration and
// keeps its position.
func (r *Registry) Register(commands ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cmd := range commands {
		if cmd.Name == "" || cmd.Handler == nil {
			r.logger.Warn("invalid command attempted to register", "command", cmd.Name)
			continue
		}
		if _, exists := r.byName[cmd.Name]; exists {
			r.logger.Warn("command registered twice, replacing earlier definition", "command", cmd.Name)
		} else {
			r.order = append(r.order, cmd.Name)
		}
		r.byName[cmd.Name] = cmd
	}
}

// Get looks a command up by name.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

// All returns every command in registration order.
func (r *Registry) All() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// HelpText lists every command with its parameters and description.
func (r *Registry) HelpText() string {
	return formatHelp(r.All())
}

// Search returns the commands whose name or description fuzzy-matches
// query, best matches first.
func (r *Registry) Search(query string) []Command {
	all := r.All()
	query = strings.TrimSpace(query)
	if query == "" {
		return all
	}

	seen := make(map[int]bool)
	var out []Command

	for _, m := range fuzzy.FindFrom(query, commandNames(all)) {
		seen[m.Index] = true
		out = append(out, all[m.Index])
	}
	for _, m := range fuzzy.FindFrom(query, commandDescriptions(all)) {
		if !seen[m.Index] {
			seen[m.Index] = true
			out = append(out, all[m.Index])
		}
	}
	return out
}

type commandNames []Command

func (c commandNames) String(i int) string { return c[i].Name }
func (c commandNames) Len() int            { return len(c) }

type commandDescriptions []Command

func (c commandDescriptions) String(i int) string { return c[i].Description }
func (c commandDescriptions) Len() int            { return len(c) }

func formatHelp(commands []Command) string {
	lines := make([]string, 0, len(commands)+1)
	lines = append(lines, "Available commands:")
	for _, cmd := range commands {
		lines = append(lines, HelpLine(cmd.Signature(), cmd.Description))
	}
	return strings.Join(lines, "\n")
}

// HelpLine pads signature to the help column and appends the description.
func HelpLine(signature, description string) string {
	return runewidth.FillRight(signature, helpColumnWidth) + " - " + description
}

// HelpCommand returns the built-in help command for r. With a query it
// lists only the matching commands.
func HelpCommand(r *Registry) Command {
	return Command{
		Name:        "help",
		Description: "Displays available commands and usage information",
		Parameters: []Parameter{
			{Name: "query", Description: "Filter commands by name or description", Type: TypeString, Trailing: true},
		},
		Handler: func(ctx context.Context, args Args) (Result, error) {
			query := args.String("query")
			if query == "" {
				return Result{Output: r.HelpText()}, nil
			}
			matches := r.Search(query)
			if len(matches) == 0 {
				return Result{Output: fmt.Sprintf("No commands match %q", query)}, nil
			}
			return Result{Output: formatHelp(matches)}, nil
		},
	}
}
