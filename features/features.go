// Package features defines the contract a pluggable capability implements to
// add commands to the terminal.
package features

import (
	"context"
	"fmt"

	"cypher/terminal"
)

// Feature contributes a set of commands.
type Feature interface {
	Name() string
	Commands(ctx context.Context) ([]terminal.Command, error)
}

// Load registers the commands of every feature, in order. The first feature
// that fails to produce its commands aborts the load.
func Load(ctx context.Context, registry *terminal.Registry, features ...Feature) error {
	for _, f := range features {
		cmds, err := f.Commands(ctx)
		if err != nil {
			return fmt.Errorf("load feature %s: %w", f.Name(), err)
		}
		registry.Register(cmds...)
	}
	return nil
}
