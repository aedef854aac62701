package main

import "github.com/charmbracelet/lipgloss"

// VSCode-ish color palette, same family the engine's teacher TUI used.
const (
	fgDefault   = "#cccccc"
	fgBright    = "#ffffff"
	fgDim       = "#808080"
	colorQueued  = "#dcdcaa"
	colorRunning = "#4ec9b0"
	colorDone    = "#89d185"
	colorError   = "#f48771"
	colorBorder  = "#3c3c3c"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorRunning))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(fgBright))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1)

	queuedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorQueued))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRunning))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorDone))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(fgDim))
)
