// Package twitter adds the "twitter" command and its sub-commands.
//
// Sub-commands act on a Client. LocalClient, the shipped implementation,
// simulates a timeline persisted in the storage tweet store.
package twitter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cypher/terminal"
)

// Name is the feature name used in settings.
const Name = "twitter"

// Feature exposes the twitter command.
type Feature struct {
	client   Client
	subs     *terminal.Registry
	cooldown time.Duration
	now      func() time.Time
}

// Option configures a Feature.
type Option func(*Feature)

// WithCooldown sets the gap enforced between own tweets of one kind. Zero
// disables the gate.
func WithCooldown(d time.Duration) Option {
	return func(f *Feature) { f.cooldown = d }
}

// WithClock replaces time.Now for cooldown checks.
func WithClock(now func() time.Time) Option {
	return func(f *Feature) { f.now = now }
}

// New returns the feature acting through client.
func New(client Client, opts ...Option) *Feature {
	f := &Feature{
		client:   client,
		subs:     terminal.NewRegistry(nil),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.subs.Register(f.subCommands()...)
	return f
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Commands(ctx context.Context) ([]terminal.Command, error) {
	return []terminal.Command{{
		Name:        "twitter",
		Description: `Interact with Twitter environment. Use "twitter help" for sub-commands.`,
		Parameters: []terminal.Parameter{
			{Name: "subcommand", Description: `Sub-command to run, or "help"`, Type: terminal.TypeString},
			{Name: terminal.RestParameterName, Description: "Arguments for the sub-command"},
		},
		Handler: f.run,
	}}, nil
}

// SubCommands returns the sub-commands in help order.
func (f *Feature) SubCommands() []terminal.Command {
	return f.subs.All()
}

func (f *Feature) run(ctx context.Context, args terminal.Args) (terminal.Result, error) {
	sub := args.String("subcommand")
	rest := args.Strings(terminal.RestParameterName)

	if sub == "help" && len(rest) > 0 {
		cmd, ok := f.subs.Get(rest[0])
		if !ok {
			return terminal.Result{Output: fmt.Sprintf(`Unknown sub-command: %s. Try "twitter help" for available commands.`, rest[0])}, nil
		}
		return terminal.Result{Output: detailedHelp(cmd)}, nil
	}

	if sub == "" || sub == "help" {
		return terminal.Result{Output: f.help()}, nil
	}

	cmd, ok := f.subs.Get(sub)
	if !ok {
		return terminal.Result{Output: fmt.Sprintf(`Unknown twitter sub-command: %s. Try "twitter help".`, sub)}, nil
	}

	bound, err := terminal.BindArguments(rest, cmd.Parameters)
	if err != nil {
		return terminal.Result{}, err
	}
	return cmd.Handler(ctx, bound)
}

func usage(cmd terminal.Command) string {
	parts := make([]string, 0, len(cmd.Parameters)+1)
	parts = append(parts, cmd.Name)
	for _, p := range cmd.Parameters {
		parts = append(parts, p.Usage())
	}
	return strings.Join(parts, " ")
}

func (f *Feature) help() string {
	lines := []string{
		"Available Twitter sub-commands:",
		`(Use "twitter help <command>" for detailed parameter information)`,
		"",
	}
	for _, cmd := range f.subs.All() {
		lines = append(lines, terminal.HelpLine(usage(cmd), cmd.Description))
	}
	return strings.Join(lines, "\n")
}

func detailedHelp(cmd terminal.Command) string {
	lines := []string{
		"Command: twitter " + cmd.Name,
		"Description: " + cmd.Description,
		"",
		"Usage:",
		"  twitter " + usage(cmd),
		"",
	}

	if len(cmd.Parameters) > 0 {
		lines = append(lines, "Parameters:")
		for _, p := range cmd.Parameters {
			required := "(Optional)"
			if p.Required {
				required = "(Required)"
			}
			def := ""
			if p.Default != "" {
				def = fmt.Sprintf(" [default: %s]", p.Default)
			}
			typ := ""
			if p.Type != "" {
				typ = fmt.Sprintf(" <%s>", p.Type)
			}
			lines = append(lines, fmt.Sprintf("  %s%s: %s %s%s", p.Name, typ, p.Description, required, def))
		}
	}
	return strings.Join(lines, "\n")
}
