// Package terminal turns free-text command lines into typed handler calls.
//
// A Registry holds the commands, a Dispatcher tokenizes a line, binds the
// tokens to the command's declared parameters and runs the handler. Every
// failure is reported as text in the Execution, never as an error to the
// caller.
package terminal

import (
	"context"
	"fmt"
	"strings"
)

// ParamType is the declared type of a command parameter. The zero value
// means untyped, which binds like a string.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// RestParameterName is the parameter name that takes every remaining token
// as a []string.
const RestParameterName = "args"

// Parameter declares one positional argument of a command.
type Parameter struct {
	Name        string
	Description string
	Required    bool
	Default     string
	Type        ParamType
	// Trailing lets an optional last string parameter take the rest of the
	// line, as a required one always does.
	Trailing bool
}

// Usage renders the parameter as <name> when required and [name] when not.
func (p Parameter) Usage() string {
	if p.Required {
		return "<" + p.Name + ">"
	}
	return "[" + p.Name + "]"
}

// Result is what a handler returns.
type Result struct {
	Output string
	Data   any
}

// Handler runs a command with its bound arguments.
type Handler func(ctx context.Context, args Args) (Result, error)

// Command is a named, registered terminal command.
type Command struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Signature renders the command name followed by <param> for every
// declared parameter.
func (c Command) Signature() string {
	if len(c.Parameters) == 0 {
		return c.Name
	}
	parts := make([]string, 0, len(c.Parameters)+1)
	parts = append(parts, c.Name)
	for _, p := range c.Parameters {
		parts = append(parts, "<"+p.Name+">")
	}
	return strings.Join(parts, " ")
}

// Args holds bound argument values: string, float64, bool or []string.
type Args map[string]any

// Has reports whether name was bound.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns the value of name as a string, or "" if unbound.
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		return fmt.Sprint(v)
	}
}

// Number returns a numeric argument. ok is false if unbound or not a number.
func (a Args) Number(name string) (float64, bool) {
	v, ok := a[name].(float64)
	return v, ok
}

// Int returns a numeric argument truncated to int, or def when unbound.
func (a Args) Int(name string, def int) int {
	if v, ok := a.Number(name); ok {
		return int(v)
	}
	return def
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Strings returns a list argument. A string value becomes its
// whitespace-separated fields.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return append([]string(nil), v...)
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

// Execution is the outcome of one dispatched command line.
type Execution struct {
	Command string
	Output  string
	Success bool
}

// Batch is the combined outcome of ExecuteMultiple.
type Batch struct {
	Commands []string
	Output   string
}
