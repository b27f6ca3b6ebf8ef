package main

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#FF6B35")
	colorSuccess = lipgloss.Color("#4CAF50")
	colorWarning = lipgloss.Color("#FFB74D")
	colorError   = lipgloss.Color("#F44336")
	colorMuted   = lipgloss.Color("#90A4AE")
	colorText    = lipgloss.Color("#ECEFF1")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorAccent).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	selectedStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle      = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle         = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle       = lipgloss.NewStyle().Foreground(colorWarning)
	errStyle        = lipgloss.NewStyle().Foreground(colorError)
)
