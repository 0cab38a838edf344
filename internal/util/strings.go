// Package util provides text helpers for terminal display.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// This is a simple truncation that does not account for ANSI escape codes or
// wide characters. For terminal output with styling, use TruncateANSI instead.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// Escape sequences are kept and wide characters count as two columns.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// RuneWidth returns the number of terminal columns r occupies. Control
// characters take none.
func RuneWidth(r rune) int {
	if r < 0x20 || r == 0x7f {
		return 0
	}
	return ansi.StringWidth(string(r))
}

// ExpandTabs replaces tabs with spaces up to the next multiple of
// tabWidth. startCol is the screen column s begins at.
func ExpandTabs(s string, tabWidth, startCol int) string {
	if !strings.ContainsRune(s, '\t') || tabWidth <= 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	x := startCol
	for _, r := range s {
		if r == '\t' {
			n := tabWidth - x%tabWidth
			sb.WriteString(strings.Repeat(" ", n))
			x += n
			continue
		}
		sb.WriteRune(r)
		x += RuneWidth(r)
	}
	return sb.String()
}
