// Package themes holds the color schemes for the review TUI.
package themes

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual style for the TUI.
type Theme struct {
	Title         lipgloss.Style
	Subtitle      lipgloss.Style
	Normal        lipgloss.Style
	Bold          lipgloss.Style
	Selected      lipgloss.Style
	Header        lipgloss.Style
	RoundedBox    lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusInfo    lipgloss.Style
	Primary       lipgloss.Color
	Muted         lipgloss.Color
	Border        lipgloss.Color
}

func build(primary, foreground, border, muted, success, warning, failure, info string) Theme {
	return Theme{
		Primary: lipgloss.Color(primary),
		Muted:   lipgloss.Color(muted),
		Border:  lipgloss.Color(border),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(foreground)).
			MarginBottom(1),
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(muted)),
		Normal: lipgloss.NewStyle().
			Foreground(lipgloss.Color(foreground)),
		Bold: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(foreground)),
		Selected: lipgloss.NewStyle().
			Background(lipgloss.Color(primary)).
			Foreground(lipgloss.Color(foreground)).
			Bold(true),
		Header: lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color(border)),
		RoundedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(border)).
			Padding(0, 1),

		StatusSuccess: lipgloss.NewStyle().
			Foreground(lipgloss.Color(success)).
			Bold(true),
		StatusWarning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(warning)).
			Bold(true),
		StatusError: lipgloss.NewStyle().
			Foreground(lipgloss.Color(failure)).
			Bold(true),
		StatusInfo: lipgloss.NewStyle().
			Foreground(lipgloss.Color(info)).
			Bold(true),
	}
}

// Default is the default theme.
var Default = build("#7c3aed", "#fafafa", "#404040", "#737373", "#10b981", "#f59e0b", "#ef4444", "#3b82f6")

// CatppuccinMocha is the Catppuccin Mocha theme.
var CatppuccinMocha = build("#cba6f7", "#cdd6f4", "#45475a", "#6c7086", "#a6e3a1", "#f9e2af", "#f38ba8", "#89dceb")

// ByName returns a theme by name, falling back to Default.
func ByName(name string) Theme {
	switch name {
	case "catppuccin", "mocha", "catppuccin-mocha":
		return CatppuccinMocha
	default:
		return Default
	}
}
