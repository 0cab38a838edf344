package patchview

import (
	"strings"

	"github.com/timxx/qgitc-sub000/internal/diff"
	"github.com/timxx/qgitc-sub000/internal/util"
)

// Cursor is a position in the text of a line. Column counts runes.
type Cursor struct {
	Line   int
	Column int
}

// Before reports whether c comes before o.
func (c Cursor) Before(o Cursor) bool {
	return c.Line < o.Line || (c.Line == o.Line && c.Column < o.Column)
}

// indent returns the display padding of a line type.
func (m *Model) indent(t diff.LineType) int {
	if t == diff.LineSummary {
		return m.tabWidth
	}
	return 0
}

// DisplayText returns line i as drawn: summary lines padded by one tab
// and tabs expanded to spaces.
func (m *Model) DisplayText(i int) string {
	item, ok := m.LineAt(i)
	if !ok {
		return ""
	}
	pad := m.indent(item.Type)
	return strings.Repeat(" ", pad) + util.ExpandTabs(item.Text(), m.tabWidth, pad)
}

// stops returns the screen column where each rune of line i starts,
// followed by the column where the line ends.
func (m *Model) stops(i int) []int {
	item, ok := m.LineAt(i)
	if !ok {
		return []int{0}
	}
	x := m.indent(item.Type)
	text := item.Text()
	out := make([]int, 0, len(text)+1)
	for _, r := range text {
		out = append(out, x)
		if r == '\t' {
			x += m.tabWidth - x%m.tabWidth
		} else {
			x += util.RuneWidth(r)
		}
	}
	return append(out, x)
}

// CursorAt maps a screen column on line to the nearest position between
// runes. Lines out of range are clamped.
func (m *Model) CursorAt(line, x int) Cursor {
	if len(m.lines) == 0 {
		return Cursor{}
	}
	line = min(max(line, 0), len(m.lines)-1)
	s := m.stops(line)
	for k := 0; k+1 < len(s); k++ {
		if x < s[k+1] {
			if 2*(x-s[k]) < s[k+1]-s[k] {
				return Cursor{Line: line, Column: k}
			}
			return Cursor{Line: line, Column: k + 1}
		}
	}
	return Cursor{Line: line, Column: len(s) - 1}
}

// ColumnOf maps a cursor back to its screen column.
func (m *Model) ColumnOf(c Cursor) int {
	s := m.stops(c.Line)
	return s[min(max(c.Column, 0), len(s)-1)]
}

// SelectedText returns the text between two cursors, in either order,
// with lines joined by newlines.
func (m *Model) SelectedText(a, b Cursor) string {
	if b.Before(a) {
		a, b = b, a
	}
	var sb strings.Builder
	for i := max(a.Line, 0); i <= b.Line && i < len(m.lines); i++ {
		runes := []rune(m.lines[i].Text())
		from, to := 0, len(runes)
		if i == a.Line {
			from = min(max(a.Column, 0), len(runes))
		}
		if i == b.Line {
			to = min(max(b.Column, from), len(runes))
		}
		if i > a.Line {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(runes[from:to]))
	}
	return sb.String()
}
