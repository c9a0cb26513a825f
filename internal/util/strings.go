// Package util provides small string helpers shared across the TUI and
// logging layers.
package util

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// TruncateString shortens s to at most maxLen runes, appending "..." when
// truncation occurs. maxLen values of 3 or less return the bare ellipsis
// prefix of the string.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI shortens a styled string to a display width of maxWidth
// cells without splitting escape sequences, appending an ellipsis when
// truncation occurs.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if ansi.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 1 {
		return ansi.Truncate(s, maxWidth, "")
	}
	return ansi.Truncate(s, maxWidth, "…")
}

// FirstLine returns everything up to the first newline, used when a
// multi-line AI response must fit a single-row summary.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Pluralize returns singular when n is 1 and plural otherwise.
func Pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
