// Package ui provides consistent styling and views for the grabarbiter CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1)
)

// Report styles
var (
	StepStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Width(4).
			Align(lipgloss.Right)

	ActionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	DeliveryStyle = lipgloss.NewStyle().
			Foreground(ColorInfo).
			MarginLeft(6)

	FailureStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			MarginLeft(6)

	KeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)
)

// Icons and indicators
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconPending = "·"
	IconArrow   = "→"
	IconSummary = "="
)

// FormatHeader renders a section title followed by a separator.
func FormatHeader(title string) string {
	return HeaderStyle.Render(InfoStyle.Render(IconSummary)+" "+title) + "\n" + CreateSeparator(50, "─")
}

// FormatPassFail renders an icon for the outcome of a check.
func FormatPassFail(ok bool) string {
	if ok {
		return SuccessStyle.Render(IconSuccess)
	}
	return ErrorStyle.Render(IconError)
}

// FormatControl renders a key and what it does.
func FormatControl(key, desc string) string {
	return KeyStyle.Render(key) + " - " + TextStyle.Render(desc)
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}
