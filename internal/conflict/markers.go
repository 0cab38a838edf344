package conflict

import (
	"bytes"
	"strings"
)

// Conflict marker prefixes written by git into conflicted files.
const (
	MarkerOurs   = "<<<<<<<"
	MarkerBase   = "|||||||"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>>"
)

// HasMarkers reports whether content still contains a conflict marker
// line.
func HasMarkers(content []byte) bool {
	for line := range bytes.SplitSeq(content, []byte("\n")) {
		if isMarker(string(bytes.TrimRight(line, "\r"))) {
			return true
		}
	}
	return false
}

func isMarker(line string) bool {
	switch {
	case line == MarkerSep:
		return true
	case strings.HasPrefix(line, MarkerOurs+" "), line == MarkerOurs:
		return true
	case strings.HasPrefix(line, MarkerTheirs+" "), line == MarkerTheirs:
		return true
	case strings.HasPrefix(line, MarkerBase+" "), line == MarkerBase:
		return true
	}
	return false
}

// Hunk is one conflicted region of a file. Lines are 1-based.
type Hunk struct {
	StartLine int
	EndLine   int
	Ours      string
	Base      string
	Theirs    string
}

// Hunks extracts the conflicted regions of content. An unterminated region
// at the end of the file is dropped.
func Hunks(content string) []Hunk {
	var (
		out   []Hunk
		cur   *Hunk
		part  *strings.Builder
		ours  strings.Builder
		base  strings.Builder
		their strings.Builder
	)
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case cur == nil && (trimmed == MarkerOurs || strings.HasPrefix(trimmed, MarkerOurs+" ")):
			cur = &Hunk{StartLine: i + 1}
			ours.Reset()
			base.Reset()
			their.Reset()
			part = &ours
		case cur != nil && (trimmed == MarkerBase || strings.HasPrefix(trimmed, MarkerBase+" ")):
			part = &base
		case cur != nil && trimmed == MarkerSep:
			part = &their
		case cur != nil && (trimmed == MarkerTheirs || strings.HasPrefix(trimmed, MarkerTheirs+" ")):
			cur.EndLine = i + 1
			cur.Ours, cur.Base, cur.Theirs = ours.String(), base.String(), their.String()
			out = append(out, *cur)
			cur = nil
		case cur != nil:
			part.WriteString(line)
			part.WriteByte('\n')
		}
	}
	return out
}

// Excerpt returns the conflicted regions of content with up to context
// lines around each, separated by "...". It is what the AI resolver is
// shown.
func Excerpt(content string, context int) string {
	hunks := Hunks(content)
	if len(hunks) == 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	var b strings.Builder
	last := 0
	for _, h := range hunks {
		from := max(h.StartLine-1-context, last)
		to := min(h.EndLine+context, len(lines))
		if from > last {
			b.WriteString("...\n")
		}
		for _, l := range lines[from:to] {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		last = to
	}
	if last < len(lines) {
		b.WriteString("...\n")
	}
	return b.String()
}
