// Package util provides small text and time helpers shared by the loop and
// the console.
package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateANSI truncates s to maxWidth visual columns, adding "..." if truncated.
// ANSI escape codes and wide characters are accounted for, so styled text can
// be fitted to the terminal.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// OneLine collapses every run of whitespace (newlines and tabs included) into
// a single space and trims the ends, so a multi-line worker message can be
// previewed on one console row.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatDuration renders d rounded to whole seconds in a compact form:
// "45s", "3m05s", "1h02m07s". Sub-second durations render as milliseconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Plural returns "1 iteration" / "3 iterations" style counts.
func Plural(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
