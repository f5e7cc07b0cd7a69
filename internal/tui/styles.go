// Package tui renders the recording surface: a bubbletea program on a
// terminal and a line console everywhere else.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/vburojevic/roborec/internal/domain"
)

var (
	accent      = lipgloss.Color("#8BC34A")
	muted       = lipgloss.Color("#7a8699")
	destructive = lipgloss.Color("#e53935")
	warning     = lipgloss.Color("#FFC107")
	info        = lipgloss.Color("#2196F3")
)

// Styles groups the lipgloss styles used by the surface.
type Styles struct {
	Title   lipgloss.Style
	Subtle  lipgloss.Style
	Event   lipgloss.Style
	Detail  lipgloss.Style
	Notice  lipgloss.Style
	Error   lipgloss.Style
	Prompt  lipgloss.Style
	Buttons lipgloss.Style
}

// DefaultStyles returns the surface styles.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(accent),
		Subtle: lipgloss.NewStyle().Foreground(muted),
		Event:  lipgloss.NewStyle().Bold(true).Width(24),
		Detail: lipgloss.NewStyle().Foreground(muted),
		Notice: lipgloss.NewStyle().Foreground(info),
		Error:  lipgloss.NewStyle().Foreground(destructive),
		Prompt: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(warning).
			Padding(0, 1),
		Buttons: lipgloss.NewStyle().Foreground(accent),
	}
}

func eventColor(t domain.EventType) lipgloss.Color {
	switch t {
	case domain.EventTextChange, domain.EventPressEditorAction:
		return info
	case domain.EventPressBack:
		return warning
	case domain.EventPermissionsRequest:
		return destructive
	default:
		return accent
	}
}
