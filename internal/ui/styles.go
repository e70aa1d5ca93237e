package ui

import "github.com/charmbracelet/lipgloss"

// Styles groups the lipgloss styles the renderer applies to each kind
// of transcript line.
type Styles struct {
	Header      lipgloss.Style
	Participant lipgloss.Style
	Silent      lipgloss.Style
	Response    lipgloss.Style
	ToolCall    lipgloss.Style
	ToolResult  lipgloss.Style
	ToolError   lipgloss.Style
	Permission  lipgloss.Style
	ErrorLine   lipgloss.Style
	Prompt      lipgloss.Style
}

// DefaultStyles returns a readable set of ANSI-256 colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Participant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Silent:      lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("8")),
		Response:    lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		ToolCall:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		ToolResult:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		ToolError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Permission:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		ErrorLine:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Prompt:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}
