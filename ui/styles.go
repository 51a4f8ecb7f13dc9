package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimColor     = lipgloss.Color("7")
	accentColor  = lipgloss.Color("12")
	successColor = lipgloss.Color("10")
	dangerColor  = lipgloss.Color("9")

	// Prompt and echoed command lines
	CommandStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	// Output of a successful command
	OutputStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	// Output of a failed command
	ErrorStyle = lipgloss.NewStyle().
			Foreground(dangerColor)

	// Timestamps and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	TitleStyle = lipgloss.NewStyle().
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(dimColor)
)

// FormatFooter renders alternating key/description pairs, descriptions in
// the accent colour.
// FormatFooter("Enter", "Run", ":copy", "Copy output") gives
// "Enter Run  :copy Copy output".
func FormatFooter(parts ...string) string {
	descStyle := lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	var result []string
	for i := 0; i+1 < len(parts); i += 2 {
		result = append(result, parts[i]+" "+descStyle.Render(parts[i+1]))
	}
	return strings.Join(result, "  ")
}
