// Package styles holds the console palette shared by the run output and the
// logs command.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on dark terminals
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)

	// Outcome colors
	StatusRunning     = lipgloss.Color("#60A5FA") // Blue
	StatusCompleted   = lipgloss.Color("#10B981") // Green
	StatusExhausted   = lipgloss.Color("#F59E0B") // Amber
	StatusTimeout     = lipgloss.Color("#F87171") // Red
	StatusInterrupted = lipgloss.Color("#FB923C") // Orange
	StatusWorkerError = lipgloss.Color("#F472B6") // Pink

	// Iteration banner, e.g. "━━ iteration 3/30 ━━"
	Banner = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	// Preview lines streamed from the worker
	Preview = lipgloss.NewStyle().
		Foreground(MutedColor).
		PaddingLeft(2)

	// Summary box printed when the run ends
	SummaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 2)

	SummaryLabel = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(12)

	// Status badge, rendered with a background from the outcome colors
	StatusBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#111827")).
			Padding(0, 1)
)

// OutcomeColor returns the color for a terminal state or invocation outcome
// name. Unknown names use the muted color.
func OutcomeColor(name string) lipgloss.Color {
	switch name {
	case "running":
		return StatusRunning
	case "completed", "success":
		return StatusCompleted
	case "exhausted":
		return StatusExhausted
	case "timed_out", "timeout":
		return StatusTimeout
	case "interrupted":
		return StatusInterrupted
	case "worker_error":
		return StatusWorkerError
	default:
		return MutedColor
	}
}

// Badge renders name as a colored status badge.
func Badge(name string) string {
	return StatusBadge.Background(OutcomeColor(name)).Render(name)
}
