package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cypher/model"
)

// FormatFunctionCalls renders calls as the textual content of an assistant
// turn. In parallel mode every call gets a summary line; otherwise only the
// first call is rendered, one argument per line.
func FormatFunctionCalls(calls []model.FunctionCall, parallel bool) string {
	if len(calls) == 0 {
		return ""
	}
	if parallel {
		lines := make([]string, len(calls))
		for i, call := range calls {
			lines[i] = fmt.Sprintf("Tool %s called with args %s", call.Name, encodeValue(call.Arguments))
		}
		return strings.Join(lines, "\n")
	}
	return formatFunctionCall(calls[0])
}

func formatFunctionCall(call model.FunctionCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## USED TOOL: %s\n", call.Name)

	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var value string
		if s, ok := call.Arguments[k].(string); ok {
			value = `"` + s + `"`
		} else {
			value = encodeValue(call.Arguments[k])
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(k), value)
	}
	return b.String()
}

func encodeValue(v any) string {
	if m, ok := v.(map[string]any); ok && m == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
