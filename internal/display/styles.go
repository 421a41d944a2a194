package display

import "github.com/charmbracelet/lipgloss"

var (
	accentColor  = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	valueStyle = lipgloss.NewStyle()
	musicStyle = lipgloss.NewStyle().Foreground(successColor)
	helpStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

func connectionStyle(state string) lipgloss.Style {
	switch state {
	case "connected":
		return valueStyle.Foreground(successColor)
	case "connecting", "reconnecting":
		return valueStyle.Foreground(warningColor)
	case "disconnected":
		return valueStyle.Foreground(errorColor)
	default:
		return valueStyle
	}
}
