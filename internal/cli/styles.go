// Package cli provides styled terminal output for the redactor command.
package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/redactor/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#7D56F4")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates partial failures and degraded units.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// LabelStyle pads field labels in summaries.
	LabelStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Width(12)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	RedactIcon  = "█"
	ChartIcon   = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the redaction icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(RedactIcon + " " + title)
}

// FormatStatus colors a result status.
func FormatStatus(status model.Status) string {
	switch status {
	case model.StatusSuccess:
		return SuccessStyle.Render(string(status))
	case model.StatusPartialFailure, model.StatusCancelled:
		return WarningStyle.Render(string(status))
	default:
		return ErrorStyle.Render(string(status))
	}
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	boxContent := lipgloss.JoinVertical(
		lipgloss.Left,
		boxTitle,
		content,
	)

	return BoxStyle.Render(boxContent)
}

// RenderResult summarises a finished run. Only counts and categories are
// shown; matched text never leaves the audit log.
func RenderResult(result model.RedactionResult, artifact string) string {
	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(LabelStyle.Render(label) + value + "\n")
	}

	field("Request", result.RequestID)
	field("Format", result.Format)
	field("Status", FormatStatus(result.Status))
	field("Units", fmt.Sprintf("%d processed, %d succeeded, %d failed, %d degraded",
		result.Processed, result.Succeeded, result.Failed, result.Degraded))
	field("Redactions", fmt.Sprintf("%d", len(result.Audit)))
	if result.Duration > 0 {
		field("Duration", result.Duration.Round(time.Millisecond).String())
	}
	if artifact != "" {
		field("Output", artifact)
	}

	counts := result.CategoryCounts()
	if len(counts) > 0 {
		b.WriteString("\n" + BoldStyle.Render("Categories") + "\n")
		for _, category := range slices.Sorted(maps.Keys(counts)) {
			b.WriteString(fmt.Sprintf("  %-20s %d\n", category, counts[category]))
		}
	}

	if len(result.Errors) > 0 {
		b.WriteString("\n" + ErrorStyle.Render("Errors") + "\n")
		for _, e := range result.Errors {
			b.WriteString(fmt.Sprintf("  %s %s: %s\n", ErrorIcon, e.UnitID, e.Kind))
		}
	}
	if len(result.Warnings) > 0 {
		b.WriteString("\n" + WarningStyle.Render("Warnings") + "\n")
		for _, w := range result.Warnings {
			b.WriteString(fmt.Sprintf("  %s %s: %s\n", WarningIcon, w.UnitID, w.Kind))
		}
	}

	return RenderBox(ChartIcon+" Redaction Summary", strings.TrimRight(b.String(), "\n"))
}
