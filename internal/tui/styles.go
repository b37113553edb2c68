package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed     = lipgloss.Color("#FF5F5F")
	colorGreen   = lipgloss.Color("#5FFF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorCyan    = lipgloss.Color("#5FD7FF")
	colorGray    = lipgloss.Color("#767676")
	colorDimGray = lipgloss.Color("#444444")
	colorMagenta = lipgloss.Color("#D787FF")
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	dimStyle       = lipgloss.NewStyle().Foreground(colorGray)
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	idleStyle      = lipgloss.NewStyle().Foreground(colorGray)
	stageStyle     = lipgloss.NewStyle().Foreground(colorMagenta)
	bypassStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dividerStyle   = lipgloss.NewStyle().Foreground(colorDimGray)
	keyStyle       = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	transcriptBox  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDimGray).Padding(0, 1)

	levelLowStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	levelHighStyle = lipgloss.NewStyle().Foreground(colorYellow)
	levelOffStyle  = lipgloss.NewStyle().Foreground(colorDimGray)
)
