package terminal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Tokenize splits a command line with POSIX shell quoting rules. Nothing is
// expanded. A line with an unterminated quote or trailing escape falls back
// to whitespace splitting.
func Tokenize(line string) []string {
	tokens, err := shellquote.Split(line)
	if err != nil {
		return strings.Fields(line)
	}
	return tokens
}

// BindArguments maps tokens onto params in declared order.
//
// The parameter named RestParameterName takes every remaining token as a
// []string. A last parameter that is string-typed (or untyped) and either
// required or Trailing takes the remaining tokens joined with single
// spaces. Any other
// parameter takes one token, falling back to its default when optional.
func BindArguments(tokens []string, params []Parameter) (Args, error) {
	args := make(Args, len(params))
	next := 0

	for i, p := range params {
		remaining := tokens[next:]

		if p.Name == RestParameterName {
			if len(remaining) == 0 && p.Required {
				return nil, fmt.Errorf("missing required parameter: %s", p.Name)
			}
			args[p.Name] = append([]string{}, remaining...)
			next = len(tokens)
			continue
		}

		var raw string
		switch {
		case len(remaining) == 0:
			if p.Required {
				return nil, fmt.Errorf("missing required parameter: %s", p.Name)
			}
			if p.Default == "" {
				continue
			}
			raw = p.Default
		case i == len(params)-1 && (p.Required || p.Trailing) && (p.Type == "" || p.Type == TypeString):
			raw = strings.Join(remaining, " ")
			next = len(tokens)
		default:
			raw = remaining[0]
			next++
		}

		value, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}
		args[p.Name] = value
	}

	return args, nil
}

func coerce(p Parameter, raw string) (any, error) {
	switch p.Type {
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("Parameter '%s' must be a number.", p.Name)
		}
		return n, nil
	case TypeBoolean:
		return raw == "true", nil
	default:
		return raw, nil
	}
}
