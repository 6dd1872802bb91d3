// Package tui provides the Bubble Tea progress view for pcapbus analyze.
//
// TUI rules:
//   - TUI is opt-in only (--progress)
//   - It draws on stderr; stdout keeps the rendered result
//   - It shows the same session data as the non-TUI output
package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	highlightColor = lipgloss.Color("#3B82F6")
	textColor      = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(14)
	valueStyle = lipgloss.NewStyle().Foreground(textColor)
	helpStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)

	okStyle     = lipgloss.NewStyle().Foreground(successColor)
	activeStyle = lipgloss.NewStyle().Foreground(warningColor)
	failStyle   = lipgloss.NewStyle().Foreground(errorColor)

	// boxStyle frames the session summary.
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// statBoxStyle frames one counter under the summary.
	statBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(16).
			Align(lipgloss.Center)
	statLabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Align(lipgloss.Center)
	statValueStyle = lipgloss.NewStyle().Bold(true).Foreground(textColor).Align(lipgloss.Center)
)

// phaseStyle colors a session phase or event outcome.
func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "completed", "success":
		return okStyle
	case "started", "transferring", "finishing":
		return activeStyle
	case "failed", "failure":
		return failStyle
	default:
		return valueStyle
	}
}
