package main

import "github.com/charmbracelet/lipgloss"

// Centralized style definitions for the monitor.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")) // magenta
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))

	stateStyles = map[string]lipgloss.Style{
		"disconnected": lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
		"connecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		"connected":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		"scanning":     lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // cyan
	}

	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	panelStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("8"))
)
